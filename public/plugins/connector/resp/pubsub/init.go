package pubsub

import (
	"fmt"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

func init() {
	if err := connector.Register("resp_pubsub", NewRESPPubSubConnector); err != nil {
		panic(fmt.Sprintf("register resp_pubsub connector: %v", err))
	}
}

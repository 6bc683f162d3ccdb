package memory

import (
	"fmt"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

func init() {
	if err := connector.Register("memory", NewMemoryConnector); err != nil {
		panic(fmt.Sprintf("failed to register memory connector: %v", err))
	}
}

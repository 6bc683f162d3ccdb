// Package all imports all available authenticators for side-effect registration.
//
//	import _ "github.com/fujin-io/stompbridge/public/plugins/authenticator/all"
package all

import (
	// api_key authenticator - checks the CONNECT passcode against configured keys
	_ "github.com/fujin-io/stompbridge/public/plugins/authenticator/api_key"
)

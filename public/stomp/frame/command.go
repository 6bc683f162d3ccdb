package frame

// Command is a STOMP frame command.
type Command string

const (
	ABORT       Command = "ABORT"
	ACK         Command = "ACK"
	BEGIN       Command = "BEGIN"
	COMMIT      Command = "COMMIT"
	CONNECT     Command = "CONNECT"
	CONNECTED   Command = "CONNECTED"
	DISCONNECT  Command = "DISCONNECT"
	ERROR       Command = "ERROR"
	MESSAGE     Command = "MESSAGE"
	NACK        Command = "NACK"
	RECEIPT     Command = "RECEIPT"
	SEND        Command = "SEND"
	STOMP       Command = "STOMP"
	SUBSCRIBE   Command = "SUBSCRIBE"
	UNSUBSCRIBE Command = "UNSUBSCRIBE"
)

type traits uint8

const (
	server traits = 1 << iota
	destination
	subscriptionID
	body
	transaction
)

var table = map[Command]traits{
	ABORT:       transaction,
	ACK:         0,
	BEGIN:       transaction,
	COMMIT:      transaction,
	CONNECT:     0,
	CONNECTED:   server,
	DISCONNECT:  0,
	ERROR:       server | body,
	MESSAGE:     server | destination | subscriptionID | body,
	NACK:        0,
	RECEIPT:     server,
	SEND:        destination | body,
	STOMP:       0,
	SUBSCRIBE:   destination | subscriptionID,
	UNSUBSCRIBE: subscriptionID,
}

// Commands returns every known command in wire order of the protocol documentation.
func Commands() []Command {
	return []Command{
		ABORT, ACK, BEGIN, COMMIT, CONNECT, CONNECTED, DISCONNECT, ERROR,
		MESSAGE, NACK, RECEIPT, SEND, STOMP, SUBSCRIBE, UNSUBSCRIBE,
	}
}

// ParseCommand maps a wire token to a Command.
func ParseCommand(s string) (Command, bool) {
	c := Command(s)
	_, ok := table[c]
	return c, ok
}

// Valid reports whether c is part of the command table.
func (c Command) Valid() bool {
	_, ok := table[c]
	return ok
}

// Server reports whether only the server may send c.
func (c Command) Server() bool { return table[c]&server != 0 }

// Destination reports whether c requires a destination header.
func (c Command) Destination() bool { return table[c]&destination != 0 }

// SubscriptionID reports whether c requires a subscription id header.
func (c Command) SubscriptionID() bool { return table[c]&subscriptionID != 0 }

// Body reports whether c may carry a body.
func (c Command) Body() bool { return table[c]&body != 0 }

// Transaction reports whether c is a transaction demarcation command.
func (c Command) Transaction() bool { return table[c]&transaction != 0 }

// SubscriptionHeader returns the header that carries the subscription id for c.
// MESSAGE frames use "subscription", SUBSCRIBE and UNSUBSCRIBE use "id".
func (c Command) SubscriptionHeader() string {
	if c == MESSAGE {
		return HdrSubscription
	}
	return HdrID
}

func (c Command) String() string { return string(c) }

package streams

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/util"
)

const (
	bodyField    = "msg"
	headerPrefix = "h:"
)

// streamsConnector implements connector.Connector interface for Redis Streams.
type streamsConnector struct {
	config Config
	l      *slog.Logger
}

// NewStreamsConnector creates a new Redis Streams connector instance.
func NewStreamsConnector(config any, l *slog.Logger) (connector.Connector, error) {
	var typedConfig Config
	if parsedConfig, ok := config.(Config); ok {
		typedConfig = parsedConfig
	} else {
		if err := util.ConvertConfig(config, &typedConfig); err != nil {
			return nil, fmt.Errorf("resp_streams connector: failed to convert config: %w", err)
		}
	}
	typedConfig.SetDefaults()
	if err := typedConfig.Validate(); err != nil {
		return nil, fmt.Errorf("resp_streams connector: invalid config: %w", err)
	}

	return &streamsConnector{
		config: typedConfig,
		l:      l,
	}, nil
}

// NewReader creates a reader. A non empty group becomes a consumer group.
func (s *streamsConnector) NewReader(group string, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	return NewReader(s.config, group, autoCommit, l)
}

// NewWriter creates a writer.
func (s *streamsConnector) NewWriter(l *slog.Logger) (connector.WriteCloser, error) {
	return NewWriter(s.config, l)
}

// xaddArgs renders the XADD arguments after the key.
func xaddArgs(maxLen int64, msg []byte, headers [][]byte) []string {
	args := make([]string, 0, 6+len(headers))
	if maxLen > 0 {
		args = append(args, "MAXLEN", "~", strconv.FormatInt(maxLen, 10))
	}
	args = append(args, "*", bodyField, string(msg))
	for i := 0; i+1 < len(headers); i += 2 {
		args = append(args, headerPrefix+string(headers[i]), string(headers[i+1]))
	}
	return args
}

func decodeEntry(m Marshaller, fields map[string]string) ([]byte, [][]byte, error) {
	if m == JSON {
		body, err := sonic.Marshal(fields)
		return body, nil, err
	}

	var hs [][]byte
	for k, v := range fields {
		if name, ok := strings.CutPrefix(k, headerPrefix); ok {
			hs = append(hs, []byte(name), []byte(v))
		}
	}
	return []byte(fields[bodyField]), hs, nil
}

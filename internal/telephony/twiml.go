package telephony

import (
	"encoding/xml"
	"errors"
	"fmt"
	"sort"
)

// ErrOutboundNotAllowed is returned when an outbound call targets anything
// but the configured test number.
var ErrOutboundNotAllowed = errors.New("telephony: outbound dialing restricted to the test number")

// StreamParam is a custom parameter passed through the start frame.
type StreamParam struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

type streamElem struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
	Params  []StreamParam
}

type connectElem struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  streamElem
}

type responseElem struct {
	XMLName xml.Name `xml:"Response"`
	Connect connectElem
}

// BootstrapTwiML renders the voice-webhook response that connects the call to
// the media-stream WebSocket, passing the given values as custom parameters.
func BootstrapTwiML(wsURL string, params map[string]string) ([]byte, error) {
	stream := streamElem{URL: wsURL}
	// Stable order keeps the markup diffable in logs.
	for _, name := range sortedKeys(params) {
		stream.Params = append(stream.Params, StreamParam{Name: name, Value: params[name]})
	}

	body, err := xml.MarshalIndent(responseElem{Connect: connectElem{Stream: stream}}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("telephony: marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// MediaStreamURL builds the WebSocket URL the bootstrap markup points at.
func MediaStreamURL(publicHost string) string {
	return fmt.Sprintf("wss://%s/media-stream", publicHost)
}

// CheckOutboundTarget enforces the proof-of-concept dialing restriction: the
// only number outbound calls may reach is the configured test number.
func CheckOutboundTarget(testNumber, to string) error {
	if testNumber == "" || to != testNumber {
		return fmt.Errorf("%w: %q", ErrOutboundNotAllowed, to)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package outbound

import (
	"encoding/json"
	"fmt"
)

// JSONSerializer reads the correlation envelope from payloads stored as
// JSON. The surrounding system supplies its own Serializer when payloads
// are carried in another representation.
type JSONSerializer struct{}

var _ Serializer = JSONSerializer{}

type jsonEnvelope struct {
	Kind       string `json:"kind"`
	SPID       string `json:"spid"`
	Region     string `json:"region"`
	TrackingID string `json:"tracking_id"`
}

func (JSONSerializer) Decode(payload []byte) (*Envelope, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("payload is not a decodable envelope: %w", err)
	}

	return &Envelope{
		Kind:       env.Kind,
		SPID:       env.SPID,
		Region:     env.Region,
		TrackingID: env.TrackingID,
	}, nil
}

// Package websocket carries connection snapshots from the collector daemon to
// remote dashboards. The protocol is request/response: the dashboard sends a
// typed request carrying an id, the daemon answers with an envelope carrying
// the same id.
package websocket

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message types
const (
	TypeGetConnections = "get_connections"
	TypeConnections    = "connections"
	TypeError          = "error"
)

// Envelope is the frame exchanged in both directions
type Envelope struct {
	Type  string              `json:"type"`
	ID    string              `json:"id,omitempty"`
	Data  jsoniter.RawMessage `json:"data,omitempty"`
	Error string              `json:"error,omitempty"`
}

// ConnectionsRequest is the payload of a get_connections request
type ConnectionsRequest struct {
	Family string `json:"family,omitempty"`
}

func requestFor(criteria filter.Criteria) ConnectionsRequest {
	if criteria.Family == filter.FamilyAny {
		return ConnectionsRequest{}
	}
	return ConnectionsRequest{Family: criteria.Family.String()}
}

func (r ConnectionsRequest) criteria() filter.Criteria {
	return filter.Criteria{Family: filter.ParseAddressFamily(r.Family)}
}

func newEnvelope(typ, id string, payload any) (Envelope, error) {
	env := Envelope{Type: typ, ID: id}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = data
	return env, nil
}

func errorEnvelope(id string, err error) Envelope {
	return Envelope{Type: TypeError, ID: id, Error: err.Error()}
}

func decodeConnections(env Envelope) ([]models.ConnectionRecord, error) {
	var conns []models.ConnectionRecord
	if len(env.Data) == 0 {
		return conns, nil
	}
	if err := json.Unmarshal(env.Data, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

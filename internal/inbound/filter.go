package inbound

import "strings"

// Verdict reasons.
const (
	ReasonInbound           = "inbound"
	ReasonOutboundAuthor    = "outbound_author"
	ReasonOutboundDirection = "outbound_direction"
	ReasonNoMetadata        = "no_metadata"
)

var outboundDirections = map[string]bool{"out": true, "outgoing": true, "outbound": true}

type Verdict struct {
	Inbound bool
	Reason  string
}

// Filter decides whether a message was written by the end user. Messages
// produced by CRM staff, automations or the bridge itself must never reach
// the assistant, otherwise the bridge answers its own replies.
type Filter struct {
	defaultInbound bool
	outboundAuthor map[string]bool
}

// NewFilter builds a filter. defaultInbound decides messages that carry no
// author type and no direction at all.
func NewFilter(defaultInbound bool, outboundAuthorTypes []string) *Filter {
	set := make(map[string]bool, len(outboundAuthorTypes))
	for _, t := range outboundAuthorTypes {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return &Filter{defaultInbound: defaultInbound, outboundAuthor: set}
}

func (f *Filter) Classify(msg Message) Verdict {
	author := strings.ToLower(strings.TrimSpace(msg.AuthorType))
	direction := strings.ToLower(strings.TrimSpace(msg.Direction))

	if author != "" && f.outboundAuthor[author] {
		return Verdict{Inbound: false, Reason: ReasonOutboundAuthor}
	}
	if outboundDirections[direction] {
		return Verdict{Inbound: false, Reason: ReasonOutboundDirection}
	}
	if author == "" && direction == "" {
		return Verdict{Inbound: f.defaultInbound, Reason: ReasonNoMetadata}
	}
	return Verdict{Inbound: true, Reason: ReasonInbound}
}

func (f *Filter) IsInboundUserMessage(msg Message) bool {
	return f.Classify(msg).Inbound
}

package conversation

// DefaultChatModel is used when the client does not select a model.
const DefaultChatModel = "chat-model"

// DefaultVisibility is used when the client does not select a visibility.
const DefaultVisibility = VisibilityPrivate

// TurnRequest is a validated, normalized inbound turn.
type TurnRequest struct {
	ID                     string     `json:"id"`
	LatestMessage          Message    `json:"latestMessage"`
	History                []Message  `json:"history"`
	SelectedChatModel      string     `json:"selectedChatModel"`
	SelectedVisibilityType Visibility `json:"selectedVisibilityType"`
	SelectedAgentID        string     `json:"selectedAgentId,omitempty"`
}

// RequestHints carries coarse environmental context about the caller.
type RequestHints struct {
	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`
	City      string `json:"city,omitempty"`
	Country   string `json:"country,omitempty"`
}

// Empty reports whether no hint is known.
func (h RequestHints) Empty() bool {
	return h == RequestHints{}
}

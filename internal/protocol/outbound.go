package protocol

// Outbound frames are fire-and-forget: no id correlation, no ack layer.
// The server assigns message ids; reconciliation absorbs redelivery.

// SendMessage asks the server to create a message. It deliberately carries
// no local id; the echo comes back as a plain Message frame.
type SendMessage struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	File           string    `json:"file,omitempty"`
	FileType       string    `json:"file_type,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	ReplyTo        *ReplyRef `json:"reply_to,omitempty"`
}

// NewSendMessage builds a message frame for the given conversation.
func NewSendMessage(conversationID, text string) *SendMessage {
	return &SendMessage{Type: TypeSendMessage, ConversationID: conversationID, Text: text}
}

// Typing notifies the peer that the local user is typing.
type Typing struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// NewTyping builds a typing frame.
func NewTyping(conversationID string) *Typing {
	return &Typing{Type: TypeTyping, ConversationID: conversationID}
}

// EditMessage replaces the text of a previously sent message.
type EditMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Text           string `json:"text"`
}

// NewEditMessage builds an edit frame.
func NewEditMessage(conversationID, messageID, text string) *EditMessage {
	return &EditMessage{Type: TypeEditMessage, ConversationID: conversationID, MessageID: messageID, Text: text}
}

// DeleteMessage asks the server to delete a message for everyone.
type DeleteMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// NewDeleteMessage builds a delete frame.
func NewDeleteMessage(conversationID, messageID string) *DeleteMessage {
	return &DeleteMessage{Type: TypeDeleteMessage, ConversationID: conversationID, MessageID: messageID}
}

// ReactMessage toggles the local user's reaction on a message.
type ReactMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Emoji          string `json:"emoji"`
}

// NewReactMessage builds a reaction frame.
func NewReactMessage(conversationID, messageID, emoji string) *ReactMessage {
	return &ReactMessage{Type: TypeReactMessage, ConversationID: conversationID, MessageID: messageID, Emoji: emoji}
}

// MarkRead reports that the local user has read a conversation.
type MarkRead struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// NewMarkRead builds a mark_read frame.
func NewMarkRead(conversationID string) *MarkRead {
	return &MarkRead{Type: TypeMarkRead, ConversationID: conversationID}
}

// MarkDelivered acknowledges delivery of a message to this device.
type MarkDelivered struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// NewMarkDelivered builds a mark_delivered frame.
func NewMarkDelivered(conversationID, messageID string) *MarkDelivered {
	return &MarkDelivered{Type: TypeMarkDelivered, ConversationID: conversationID, MessageID: messageID}
}

// PinMessage pins or unpins a message depending on the type tag.
type PinMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// NewPinMessage builds a pin frame.
func NewPinMessage(conversationID, messageID string) *PinMessage {
	return &PinMessage{Type: TypePinMessage, ConversationID: conversationID, MessageID: messageID}
}

// NewUnpinMessage builds an unpin frame.
func NewUnpinMessage(conversationID, messageID string) *PinMessage {
	return &PinMessage{Type: TypeUnpinMessage, ConversationID: conversationID, MessageID: messageID}
}

// OfferFrame is the outbound form of WebRTCOffer. The same shape serves
// initial offers, renegotiation, and ICE restarts.
type OfferFrame struct {
	Type string `json:"type"`
	WebRTCOffer
}

// NewWebRTCOffer builds an offer frame.
func NewWebRTCOffer(conversationID, sdp string, video, iceRestart bool) *OfferFrame {
	return &OfferFrame{Type: TypeWebRTCOffer, WebRTCOffer: WebRTCOffer{
		ConversationID: conversationID, SDP: sdp, Video: video, ICERestart: iceRestart,
	}}
}

// AnswerFrame is the outbound form of WebRTCAnswer.
type AnswerFrame struct {
	Type string `json:"type"`
	WebRTCAnswer
}

// NewWebRTCAnswer builds an answer frame.
func NewWebRTCAnswer(conversationID, sdp string) *AnswerFrame {
	return &AnswerFrame{Type: TypeWebRTCAnswer, WebRTCAnswer: WebRTCAnswer{
		ConversationID: conversationID, SDP: sdp,
	}}
}

// CandidateFrame is the outbound form of WebRTCICECandidate.
type CandidateFrame struct {
	Type string `json:"type"`
	WebRTCICECandidate
}

// NewWebRTCICECandidate builds a candidate frame.
func NewWebRTCICECandidate(conversationID string, cand ICECandidate) *CandidateFrame {
	return &CandidateFrame{Type: TypeWebRTCCandidate, WebRTCICECandidate: WebRTCICECandidate{
		ConversationID: conversationID, Candidate: cand,
	}}
}

// CallEndedFrame is the outbound form of CallEnded.
type CallEndedFrame struct {
	Type string `json:"type"`
	CallEnded
}

// NewCallEnded builds a terminate frame.
func NewCallEnded(conversationID string) *CallEndedFrame {
	return &CallEndedFrame{Type: TypeCallEnded, CallEnded: CallEnded{ConversationID: conversationID}}
}

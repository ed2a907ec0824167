// Package evolution integrates with the Evolution API WhatsApp gateway. It
// normalizes inbound webhook deliveries into events and sends outbound text
// and media messages.
package evolution

// WebhookPayload is the raw body the gateway posts to the webhook endpoint.
// Only the fields the normalizer reads are declared.
type WebhookPayload struct {
	Event    string      `json:"event"`
	Instance string      `json:"instance"`
	Data     WebhookData `json:"data"`
}

// WebhookData carries one delivered message.
type WebhookData struct {
	Key      WebhookKey     `json:"key"`
	PushName string         `json:"pushName"`
	Message  WebhookMessage `json:"message"`
}

// WebhookKey identifies the message and its sender.
type WebhookKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// WebhookMessage holds the message content variants. Exactly one of the
// fields is populated for a given delivery.
type WebhookMessage struct {
	Conversation    string           `json:"conversation,omitempty"`
	ImageMessage    *ImageMessage    `json:"imageMessage,omitempty"`
	DocumentMessage *DocumentMessage `json:"documentMessage,omitempty"`
}

// ImageMessage is an inbound photo attachment.
type ImageMessage struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype"`
	Caption  string `json:"caption,omitempty"`
}

// DocumentMessage is an inbound document attachment.
type DocumentMessage struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype"`
	FileName string `json:"fileName,omitempty"`
}

// sendTextRequest is the body for the gateway text send endpoint.
type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// sendMediaRequest is the body for the gateway media send endpoint.
type sendMediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

// sendResponse is the subset of the gateway send response we read back.
type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

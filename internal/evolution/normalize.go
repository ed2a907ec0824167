package evolution

import (
	"log/slog"
	"strings"

	"github.com/SorrisoLab/SmileFlow/internal/models"
)

// messagesUpsertEvent is the only webhook event kind that carries patient
// messages; everything else is gateway housekeeping.
const messagesUpsertEvent = "messages.upsert"

// ExtractPhone strips the JID suffix from a gateway remote JID, leaving the
// bare phone number ("5511999998888@s.whatsapp.net" becomes "5511999998888").
func ExtractPhone(remoteJid string) string {
	if i := strings.IndexByte(remoteJid, '@'); i >= 0 {
		return remoteJid[:i]
	}
	return remoteJid
}

// Normalize converts a raw webhook payload into an InboundEvent. The second
// return value is false when the delivery should be ignored: non-message
// events, echoes of our own outbound sends, and payloads with no usable
// content.
func Normalize(p WebhookPayload) (models.InboundEvent, bool) {
	if p.Event != messagesUpsertEvent {
		slog.Debug("evolution.Normalize: ignoring event", "event", p.Event)
		return models.InboundEvent{}, false
	}
	if p.Data.Key.FromMe {
		slog.Debug("evolution.Normalize: ignoring own message echo", "providerMessageID", p.Data.Key.ID)
		return models.InboundEvent{}, false
	}

	phone := ExtractPhone(p.Data.Key.RemoteJid)
	if phone == "" {
		slog.Debug("evolution.Normalize: empty phone, ignoring")
		return models.InboundEvent{}, false
	}

	ev := models.InboundEvent{
		Phone:             phone,
		ContactName:       p.Data.PushName,
		Instance:          p.Instance,
		ProviderMessageID: p.Data.Key.ID,
	}

	switch {
	case p.Data.Message.ImageMessage != nil:
		ev.Kind = models.MessageKindImage
		ev.MediaURL = p.Data.Message.ImageMessage.URL
		ev.Text = p.Data.Message.ImageMessage.Caption
	case p.Data.Message.DocumentMessage != nil:
		ev.Kind = models.MessageKindDocument
		ev.MediaURL = p.Data.Message.DocumentMessage.URL
		ev.Text = p.Data.Message.DocumentMessage.FileName
	case p.Data.Message.Conversation != "":
		ev.Kind = models.MessageKindText
		ev.Text = p.Data.Message.Conversation
	default:
		slog.Debug("evolution.Normalize: no usable content, ignoring", "providerMessageID", p.Data.Key.ID)
		return models.InboundEvent{}, false
	}

	return ev, true
}

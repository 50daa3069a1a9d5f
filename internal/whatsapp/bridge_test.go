package whatsapp

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeBridgeMessageText(t *testing.T) {
	data := json.RawMessage(`{
		"key": {"id": "BAE5F5A632EAE722", "fromMe": false},
		"messageType": "text",
		"timestamp": 1735689600,
		"textMessage": {"text": "hi"},
		"sender": {"id": "5511987654321@c.us", "name": "X"},
		"chat": {"id": "5511987654321@c.us"}
	}`)

	m, err := NormalizeBridgeMessage(data)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if m.ProviderMessageID != "BAE5F5A632EAE722" {
		t.Errorf("provider id = %q", m.ProviderMessageID)
	}
	if m.From != "5511987654321" {
		t.Errorf("from = %q", m.From)
	}
	if m.FromName != "X" {
		t.Errorf("from name = %q", m.FromName)
	}
	if m.Type != TypeText || m.Text != "hi" {
		t.Errorf("type=%q text=%q", m.Type, m.Text)
	}
	if m.FromMe {
		t.Error("fromMe should be false")
	}
	if m.Timestamp != time.Unix(1735689600, 0).UTC() {
		t.Errorf("timestamp = %v", m.Timestamp)
	}
}

func TestNormalizeBridgeMessageMediaCaption(t *testing.T) {
	data := json.RawMessage(`{
		"id": "MEDIA1",
		"messageType": "image",
		"mediaMessage": {"id": "mm-1", "mediatype": "image", "caption": "look at this", "fileName": "photo.jpg"},
		"sender": {"id": "5511987654321@s.whatsapp.net", "name": "X"},
		"chat": {"id": "5511987654321@s.whatsapp.net"}
	}`)

	m, err := NormalizeBridgeMessage(data)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if m.Type != TypeImage {
		t.Errorf("type = %q", m.Type)
	}
	if m.Text != "look at this" {
		t.Errorf("text = %q, want the media caption", m.Text)
	}
	if m.MediaID != "mm-1" || m.MediaFilename != "photo.jpg" {
		t.Errorf("media id=%q filename=%q", m.MediaID, m.MediaFilename)
	}
}

func TestNormalizeBridgeMessagePlaceholderBody(t *testing.T) {
	// 没有文本也没有 caption：正文用大写类型占位
	data := json.RawMessage(`{
		"id": "MEDIA2",
		"messageType": "image",
		"mediaMessage": {"id": "mm-2", "mediatype": "image"},
		"sender": {"id": "5511987654321@c.us"},
		"chat": {"id": "5511987654321@c.us"}
	}`)

	m, err := NormalizeBridgeMessage(data)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if m.Text != "[IMAGE]" {
		t.Errorf("text = %q, want [IMAGE]", m.Text)
	}
}

func TestNormalizeBridgeMessageUnknownType(t *testing.T) {
	data := json.RawMessage(`{
		"id": "POLL1",
		"messageType": "poll",
		"sender": {"id": "5511987654321@c.us"},
		"chat": {"id": "5511987654321@c.us"}
	}`)

	m, err := NormalizeBridgeMessage(data)
	if err != nil {
		t.Fatalf("unknown type must not error: %v", err)
	}
	if m.Type != TypeUnsupported {
		t.Errorf("type = %q, want unsupported", m.Type)
	}
	if m.Text != "[POLL]" {
		t.Errorf("text = %q", m.Text)
	}
}

func TestNormalizeBridgeMessageFromMe(t *testing.T) {
	data := json.RawMessage(`{
		"key": {"id": "OUT1", "fromMe": true},
		"messageType": "text",
		"textMessage": {"text": "reply from agent"},
		"sender": {"id": "5511987654321@c.us"},
		"chat": {"id": "5511987654321@c.us"}
	}`)

	m, err := NormalizeBridgeMessage(data)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !m.FromMe {
		t.Error("fromMe flag lost")
	}
}

func TestNormalizeBridgeMessageMissingPhone(t *testing.T) {
	data := json.RawMessage(`{"messageType": "text", "textMessage": {"text": "hi"}}`)
	if _, err := NormalizeBridgeMessage(data); err == nil {
		t.Fatal("expected error for event without any phone")
	}
}

func TestNormalizeBridgeStatus(t *testing.T) {
	data := json.RawMessage(`{"key": {"id": "BAE5"}, "status": "DELIVERY_ACK"}`)
	st, err := NormalizeBridgeStatus(data)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if st.ProviderMessageID != "BAE5" || st.Status != "delivered" {
		t.Errorf("got id=%q status=%q", st.ProviderMessageID, st.Status)
	}
}

func TestNormalizeBridgeContact(t *testing.T) {
	data := json.RawMessage(`{"id": "5511987654321@c.us", "pushName": "Maria"}`)
	phone, name, err := NormalizeBridgeContact(data)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if phone != "5511987654321" || name != "Maria" {
		t.Errorf("got phone=%q name=%q", phone, name)
	}
}

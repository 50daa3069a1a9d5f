package whatsapp

import (
	"encoding/json"
	"testing"
	"time"
)

func decodeCloudValue(t *testing.T, raw string) *CloudValue {
	t.Helper()
	var v CloudValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	return &v
}

func TestNormalizeCloudValueText(t *testing.T) {
	v := decodeCloudValue(t, `{
		"messaging_product": "whatsapp",
		"metadata": {"display_phone_number": "5511000000000", "phone_number_id": "109876"},
		"contacts": [{"profile": {"name": "Maria"}, "wa_id": "5511987654321"}],
		"messages": [{
			"from": "5511987654321",
			"id": "wamid.A1",
			"timestamp": "1735689600",
			"type": "text",
			"text": {"body": "ola"}
		}]
	}`)

	msgs, sts := NormalizeCloudValue(v)
	if len(msgs) != 1 || len(sts) != 0 {
		t.Fatalf("got %d msgs %d statuses", len(msgs), len(sts))
	}
	m := msgs[0]
	if m.ProviderMessageID != "wamid.A1" || m.From != "5511987654321" {
		t.Errorf("id=%q from=%q", m.ProviderMessageID, m.From)
	}
	// 发送人显示名来自 contacts[] 的 wa_id 映射
	if m.FromName != "Maria" {
		t.Errorf("from name = %q", m.FromName)
	}
	if m.Text != "ola" || m.Type != TypeText {
		t.Errorf("type=%q text=%q", m.Type, m.Text)
	}
	if m.Timestamp != time.Unix(1735689600, 0).UTC() {
		t.Errorf("timestamp = %v", m.Timestamp)
	}
}

func TestNormalizeCloudValuePartialFailureIsolation(t *testing.T) {
	// 第 2 条是未知类型，第 3 条缺 id（畸形）；其余照常归一化
	v := decodeCloudValue(t, `{
		"metadata": {"phone_number_id": "109876"},
		"messages": [
			{"from": "5511987654321", "id": "wamid.A1", "type": "text", "text": {"body": "um"}},
			{"from": "5511987654321", "id": "wamid.A2", "type": "reaction"},
			{"from": "5511987654321", "type": "text", "text": {"body": "perdido"}},
			{"from": "5511987654321", "id": "wamid.A4", "type": "text", "text": {"body": "tres"}}
		]
	}`)

	msgs, _ := NormalizeCloudValue(v)
	if len(msgs) != 3 {
		t.Fatalf("got %d msgs, want 3 (malformed item dropped)", len(msgs))
	}
	if msgs[0].Text != "um" || msgs[2].Text != "tres" {
		t.Errorf("well-formed items lost: %q / %q", msgs[0].Text, msgs[2].Text)
	}
	// 未知类型归为 unsupported，正文留空，而不是整批失败
	if msgs[1].Type != TypeUnsupported || msgs[1].Text != "" {
		t.Errorf("unknown type: type=%q text=%q", msgs[1].Type, msgs[1].Text)
	}
}

func TestNormalizeCloudValueMediaAndQuote(t *testing.T) {
	v := decodeCloudValue(t, `{
		"metadata": {"phone_number_id": "109876"},
		"messages": [{
			"from": "5511987654321",
			"id": "wamid.D1",
			"type": "document",
			"context": {"from": "5511987654321", "id": "wamid.Q1"},
			"document": {"id": "media-77", "caption": "contrato", "filename": "contrato.pdf"}
		}]
	}`)

	msgs, _ := NormalizeCloudValue(v)
	if len(msgs) != 1 {
		t.Fatalf("got %d msgs", len(msgs))
	}
	m := msgs[0]
	if m.MediaID != "media-77" || m.MediaFilename != "contrato.pdf" {
		t.Errorf("media id=%q filename=%q", m.MediaID, m.MediaFilename)
	}
	if m.Text != "contrato" {
		t.Errorf("body should fall back to caption, got %q", m.Text)
	}
	if m.QuotedMessageID != "wamid.Q1" {
		t.Errorf("quoted id = %q", m.QuotedMessageID)
	}
}

func TestNormalizeCloudValueTypeWithoutPayloadSkipped(t *testing.T) {
	// 声明是 text 却没有 text 对象：畸形，跳过
	v := decodeCloudValue(t, `{
		"messages": [{"from": "5511987654321", "id": "wamid.B1", "type": "text"}]
	}`)
	msgs, _ := NormalizeCloudValue(v)
	if len(msgs) != 0 {
		t.Fatalf("malformed item must be skipped, got %d", len(msgs))
	}
}

func TestNormalizeCloudValueStatuses(t *testing.T) {
	v := decodeCloudValue(t, `{
		"statuses": [
			{"id": "wamid.A1", "status": "delivered", "timestamp": "1735689700", "recipient_id": "5511987654321"},
			{"id": "", "status": "read"},
			{"id": "wamid.A2", "status": "read", "timestamp": "not-a-number"}
		]
	}`)

	_, sts := NormalizeCloudValue(v)
	if len(sts) != 2 {
		t.Fatalf("got %d statuses, want 2", len(sts))
	}
	if sts[0].Status != "delivered" || sts[0].RecipientID != "5511987654321" {
		t.Errorf("status[0] = %+v", sts[0])
	}
	// 时间戳解析失败不影响状态本身
	if !sts[1].Timestamp.IsZero() || sts[1].Status != "read" {
		t.Errorf("status[1] = %+v", sts[1])
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

const baseURL = "http://localhost:8080"

// 对本地服务投递同一条桥接事件两次，验证幂等落库。
// 需要先起服务并配置 BRIDGE_WEBHOOK_TOKEN。
func main() {
	fmt.Println("=== 回调幂等性测试程序 ===")

	token := os.Getenv("BRIDGE_WEBHOOK_TOKEN")
	if token == "" {
		fmt.Println("❌ 请设置 BRIDGE_WEBHOOK_TOKEN 环境变量")
		return
	}

	event := map[string]any{
		"event":    "messages.upsert",
		"instance": "crm_instance",
		"data": map[string]any{
			"key":         map[string]any{"id": "IDEMPOTENCY-PROBE-001", "fromMe": false},
			"messageType": "text",
			"textMessage": map[string]any{"text": "idempotency probe"},
			"sender":      map[string]any{"id": "5511987654321@c.us", "name": "Probe"},
			"chat":        map[string]any{"id": "5511987654321@c.us"},
		},
	}

	fmt.Println("步骤1: 第一次投递...")
	code1, body1, err := deliver(token, event)
	if err != nil {
		fmt.Printf("❌ 投递失败: %v\n", err)
		return
	}
	fmt.Printf("✅ 第一次响应: status=%d body=%s\n", code1, body1)

	fmt.Println("步骤2: 重投同一事件（模拟上游重试）...")
	code2, body2, err := deliver(token, event)
	if err != nil {
		fmt.Printf("❌ 投递失败: %v\n", err)
		return
	}
	fmt.Printf("✅ 第二次响应: status=%d body=%s\n", code2, body2)

	fmt.Println("\n=== 测试结果 ===")
	if code1 == 200 && code2 == 200 {
		fmt.Println("✅ 两次投递均被确认")
		fmt.Println("   请在数据库验证只有一行消息:")
		fmt.Println("   SELECT COUNT(*) FROM messages WHERE provider_message_id = 'IDEMPOTENCY-PROBE-001';")
	} else {
		fmt.Println("❌ 幂等性测试失败！")
		fmt.Printf("   第一次: status=%d\n", code1)
		fmt.Printf("   第二次: status=%d\n", code2)
	}
}

func deliver(token string, event map[string]any) (int, string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/whatsapp/webhook", bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(raw), nil
}

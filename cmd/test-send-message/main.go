package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/Eveneto/sistema-crm-simples-sub000/internal/auth"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/config"
)

const baseURL = "http://localhost:8080"

// 用本地签发的坐席令牌调出站发送接口。
// 用法: go run ./cmd/test-send-message <号码> <文本>
func main() {
	fmt.Println("=== 出站发送测试程序 ===")

	if len(os.Args) < 3 {
		fmt.Println("用法: test-send-message <号码> <文本>")
		return
	}
	phone, text := os.Args[1], os.Args[2]

	cfg := config.Load()
	token, err := auth.GenerateToken(&cfg.JWT, 1, "probe@local")
	if err != nil {
		fmt.Printf("❌ 生成令牌失败: %v\n", err)
		return
	}

	body, _ := json.Marshal(map[string]any{
		"phoneNumber": phone,
		"message":     text,
	})
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/whatsapp/send", bytes.NewReader(body))
	if err != nil {
		fmt.Printf("❌ 构建请求失败: %v\n", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("❌ 请求失败: %v\n", err)
		return
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	fmt.Printf("响应: status=%d body=%s\n", resp.StatusCode, string(raw))
	if resp.StatusCode == 200 {
		fmt.Println("✅ 发送成功")
	} else {
		fmt.Println("❌ 发送失败")
	}
}

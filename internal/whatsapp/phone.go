package whatsapp

import "strings"

// PhoneFromJID 从桥接 JID（如 5511987654321@s.whatsapp.net、...@c.us）提取
// 纯数字手机号：砍掉 @ 之后的后缀，再去掉所有非数字字符
func PhoneFromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	return onlyDigits(jid)
}

// NormalizeDestination 出站号码归一化。11 位号码按巴西本地手机号处理，
// 补默认国家码；其余长度视为已带国家码，原样放行。
// 这是个刻意保守的启发式，国家码可通过配置覆盖
func NormalizeDestination(phone, countryCode string) string {
	digits := onlyDigits(phone)
	if len(digits) == 11 {
		return countryCode + digits
	}
	return digits
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

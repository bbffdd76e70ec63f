package obs

// MaskValue 对敏感值进行掩码处理
func MaskValue(v string) string {
	if len(v) <= 8 {
		return "***"
	}
	return v[:4] + "***" + v[len(v)-4:]
}

// MaskIdentity 对事件中的用户标识进行掩码，空值原样返回。
// 日志中不落明文 userId/anonymousId
func MaskIdentity(v string) string {
	if v == "" {
		return ""
	}
	return MaskValue(v)
}

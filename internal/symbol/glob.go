package symbol

import "strings"

// Match 判断 s 是否完整匹配 pattern；只支持 * 通配符，大小写敏感。
func Match(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return len(s) >= len(last) && strings.HasSuffix(s, last)
}

// MatchAny 任一 pattern 命中即返回 true；空白 pattern 被忽略。
func MatchAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if Match(p, s) {
			return true
		}
	}
	return false
}

// Filter 依次应用 include、exclude 与数量上限；同时命中 include 与 exclude 时排除。
// include 为空表示全部保留，max<=0 表示不限。输入顺序保持不变。
func Filter(symbols, include, exclude []string, max int) []string {
	hasInclude := false
	for _, p := range include {
		if strings.TrimSpace(p) != "" {
			hasInclude = true
			break
		}
	}
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if hasInclude && !MatchAny(include, s) {
			continue
		}
		if MatchAny(exclude, s) {
			continue
		}
		out = append(out, s)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// Package matcher 从任意文本中提取 .m3u8 清单地址
package matcher

import (
	"regexp"
	"strings"

	"m3u8capture/pkg/model"
)

// manifestPattern scheme:// + 非空白且不含 '"<> 的字符 + .m3u8 + 同类字符（查询串/片段）
var manifestPattern = regexp.MustCompile(`(?i)https?://[^\s'"<>]+\.m3u8[^\s'"<>]*`)

const marker = ".m3u8"

// Extract 按从左到右的顺序返回文本中所有不重叠的清单地址
func Extract(text string) []model.ManifestURL {
	if text == "" || !Contains(text) {
		return nil
	}
	found := manifestPattern.FindAllString(text, -1)
	if len(found) == 0 {
		return nil
	}
	out := make([]model.ManifestURL, len(found))
	for i, s := range found {
		out[i] = model.ManifestURL(s)
	}
	return out
}

// Contains 大小写不敏感地检查 .m3u8 标记，作为完整匹配前的廉价过滤
func Contains(s string) bool {
	return strings.Contains(strings.ToLower(s), marker)
}

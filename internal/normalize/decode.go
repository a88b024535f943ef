package normalize

import (
	"mime"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DecodeText 宽松地将字节解码为文本
//
// 内容类型中声明了可识别的 charset 时按该编码解码，否则按 UTF-8 解码，
// 非法字节序列替换为 U+FFFD，从不返回错误。
func DecodeText(b []byte, contentType string) string {
	if len(b) == 0 {
		return ""
	}
	if cs := charsetOf(contentType); cs != "" {
		if enc, err := htmlindex.Get(cs); err == nil {
			if out, err := enc.NewDecoder().Bytes(b); err == nil {
				return strings.ToValidUTF8(string(out), "�")
			}
		}
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}

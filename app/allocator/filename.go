package allocator

import (
	"mime"
	"regexp"
	"strings"

	"os-downloads/app/utils/pathhelper"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultFilename        = "downloadfile"
	DefaultBinaryExtension = ".bin"
	DefaultHTMLExtension   = ".html"
	DefaultTextExtension   = ".txt"
	SequenceSeparator      = "-"
	// RecoveryName 缓存分区中基本名（不含扩展名）等于该值时总是追加序号，比较不区分大小写。
	// 只看基本名，所以 recovery.bin 和 RECOVERY.zip 同样会追加序号。
	RecoveryName            = "recovery"
	MimeTypeDRMMessage      = "application/vnd.oma.drm.message"
	MimeTypePackageArchive  = "application/vnd.android.package-archive"
	contentDispositionGroup = 1
)

var contentDispositionPattern = regexp.MustCompile(`attachment;\s*filename\s*=\s*"([^"]*)"`)

// parseContentDisposition 只识别 attachment 类型中带引号的 filename
func parseContentDisposition(header string) (string, bool) {
	m := contentDispositionPattern.FindStringSubmatch(header)
	if m == nil {
		return "", false
	}
	return m[contentDispositionGroup], true
}

// chooseFilename 按优先级选择文件名：
// 调用方提示、Content-Disposition、Content-Location、下载地址、默认名
func chooseFilename(req Request) string {
	hint := pathhelper.ConvertToLinuxPath(req.Hint)
	if hint != "" && !strings.HasSuffix(hint, "/") {
		if name := pathhelper.Basename(hint); usable(name) {
			return name
		}
	}

	if req.ContentDisposition != "" {
		if name, ok := parseContentDisposition(req.ContentDisposition); ok {
			if name = pathhelper.Basename(name); usable(name) {
				return name
			}
		}
	}

	if req.ContentLocation != "" {
		decoded := pathhelper.DecodeURL(req.ContentLocation)
		if !strings.HasSuffix(decoded, "/") && !strings.Contains(decoded, "?") {
			if name := pathhelper.Basename(decoded); usable(name) {
				return name
			}
		}
	}

	decoded := pathhelper.DecodeURL(req.URL)
	if !strings.HasSuffix(decoded, "/") && !strings.Contains(decoded, "?") && strings.Contains(decoded, "/") {
		if name := pathhelper.Basename(decoded); usable(name) {
			return name
		}
	}

	return DefaultFilename
}

func usable(name string) bool {
	return name != "" && name != "." && name != ".."
}

// splitFilename 以第一个点分隔主名和扩展名，并按内容类型校正扩展名
func splitFilename(filename, mimeType string) (base, ext string) {
	dot := strings.IndexByte(filename, '.')
	if dot < 0 {
		return filename, extensionFromMimeType(mimeType, true)
	}

	base, ext = filename[:dot], filename[dot:]
	if mimeType == "" {
		return base, ext
	}

	// 只比较最后一段扩展名对应的类型，不一致时整体替换
	last := filename[strings.LastIndexByte(filename, '.'):]
	if !sameMimeType(mimeTypeFromExtension(last), mimeType) {
		if substitute := extensionFromMimeType(mimeType, false); substitute != "" {
			return base, substitute
		}
	}
	return base, ext
}

// extensionFromMimeType 返回带点的扩展名。
// 未知类型在 useDefaults 为 true 时使用通用扩展名，text/html 总是使用 .html。
func extensionFromMimeType(mimeType string, useDefaults bool) string {
	essence := mediaType(mimeType)
	if essence != "" {
		if m := mimetype.Lookup(essence); m != nil && m.Extension() != "" {
			return m.Extension()
		}
	}

	if strings.HasPrefix(essence, "text/") {
		if essence == "text/html" {
			return DefaultHTMLExtension
		}
		if useDefaults {
			return DefaultTextExtension
		}
		return ""
	}
	if useDefaults {
		return DefaultBinaryExtension
	}
	return ""
}

func mimeTypeFromExtension(ext string) string {
	return mediaType(mime.TypeByExtension(strings.ToLower(ext)))
}

func sameMimeType(a, b string) bool {
	return a != "" && mediaType(a) == mediaType(b)
}

// mediaType 去掉参数并转为小写，例如 "Text/HTML; charset=utf-8" -> "text/html"
func mediaType(v string) string {
	if v == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(v); err == nil {
		return mt
	}
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// normalizeName 统一为 NFC 形式，避免同名文件因编码差异重复
func normalizeName(name string) string {
	return norm.NFC.String(name)
}

package security

import (
	"strings"
	"testing"
)

// TestSanitize_AllowedTags は許可タグが正しく通過することを検証する。
func TestSanitize_AllowedTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		// want に含まれるべき部分文字列
		wantContains []string
	}{
		{
			name:         "pタグが許可される",
			input:        "<p>テスト段落</p>",
			wantContains: []string{"<p>テスト段落</p>"},
		},
		{
			name:         "見出しタグが許可される",
			input:        "<h2>見出し</h2>",
			wantContains: []string{"<h2>見出し</h2>"},
		},
		{
			name:         "aタグが許可される",
			input:        `<a href="https://example.com">リンク</a>`,
			wantContains: []string{"<a", "href", "https://example.com", "リンク", "</a>"},
		},
		{
			name:         "preタグとcodeタグが許可される",
			input:        "<pre><code>func main() {}</code></pre>",
			wantContains: []string{"<pre>", "<code>", "func main() {}", "</code>", "</pre>"},
		},
		{
			name:         "strongタグとemタグが許可される",
			input:        "<strong>太字</strong><em>強調</em>",
			wantContains: []string{"<strong>太字</strong>", "<em>強調</em>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, want to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitize_RemovesDangerousContent は危険なタグと属性が除去されることを検証する。
func TestSanitize_RemovesDangerousContent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name           string
		input          string
		wantNotContain []string
	}{
		{
			name:           "scriptタグが除去される",
			input:          `<p>本文</p><script>alert("xss")</script>`,
			wantNotContain: []string{"<script>", "alert"},
		},
		{
			name:           "iframeタグが除去される",
			input:          `<iframe src="https://evil.example.com"></iframe>`,
			wantNotContain: []string{"<iframe", "evil.example.com"},
		},
		{
			name:           "onclickイベント属性が除去される",
			input:          `<p onclick="steal()">クリック</p>`,
			wantNotContain: []string{"onclick", "steal"},
		},
		{
			name:           "javascriptスキームのリンクが除去される",
			input:          `<a href="javascript:alert(1)">リンク</a>`,
			wantNotContain: []string{"javascript:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, bad := range tt.wantNotContain {
				if strings.Contains(got, bad) {
					t.Errorf("Sanitize(%q) = %q, must not contain %q", tt.input, got, bad)
				}
			}
		})
	}
}

// プレーンテキストがそのまま通過することを検証
func TestSanitize_PlainTextPassesThrough(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := "装飾のないプレーンテキストの本文です。"
	if got := sanitizer.Sanitize(input); got != input {
		t.Errorf("Sanitize(%q) = %q, want unchanged", input, got)
	}
}

// 同一入力に対して同一出力を返す（冪等性）ことを検証
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := `<p>本文</p><script>alert(1)</script><a href="https://example.com">リンク</a>`
	once := sanitizer.Sanitize(input)
	twice := sanitizer.Sanitize(once)

	if once != twice {
		t.Errorf("sanitize is not idempotent: %q != %q", once, twice)
	}
}

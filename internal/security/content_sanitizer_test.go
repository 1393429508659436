package security

import (
	"strings"
	"testing"
)

// TestSanitize_StripsAllTags は全てのHTMLタグが除去されることを検証する。
func TestSanitize_StripsAllTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "pタグが除去されテキストのみ残る",
			input: "<p>Apply for this scholarship</p>",
			want:  "Apply for this scholarship",
		},
		{
			name:  "ネストしたタグが全て除去される",
			input: "<div><strong>Remote</strong> <em>internship</em> opportunity</div>",
			want:  "Remote internship opportunity",
		},
		{
			name:  "aタグはテキストのみ残る",
			input: `Apply via <a href="https://example.com">this link</a>`,
			want:  "Apply via this link",
		},
		{
			name:  "imgタグは完全に除去される",
			input: `Before<img src="https://example.com/x.png" alt="logo">After`,
			want:  "BeforeAfter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_RemovesDangerousContent は危険なタグと属性が除去されることを検証する。
func TestSanitize_RemovesDangerousContent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name        string
		input       string
		wantMissing []string
	}{
		{
			name:        "scriptタグが除去される",
			input:       `<p>text</p><script>alert('xss')</script>`,
			wantMissing: []string{"<script", "alert"},
		},
		{
			name:        "iframeタグが除去される",
			input:       `<iframe src="https://evil.example.com"></iframe>content`,
			wantMissing: []string{"<iframe", "evil.example.com"},
		},
		{
			name:        "onclickイベント属性が除去される",
			input:       `<p onclick="steal()">text</p>`,
			wantMissing: []string{"onclick", "steal"},
		},
		{
			name:        "javascriptスキームのリンクが除去される",
			input:       `<a href="javascript:alert(1)">click</a>`,
			wantMissing: []string{"javascript:", "href"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, missing := range tt.wantMissing {
				if strings.Contains(got, missing) {
					t.Errorf("Sanitize(%q) = %q, must not contain %q", tt.input, got, missing)
				}
			}
		})
	}
}

// TestSanitize_DecodesEntities はHTMLエンティティがデコードされることを検証する。
func TestSanitize_DecodesEntities(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.Sanitize("Research &amp; Development &ndash; Nairobi")
	if !strings.Contains(got, "Research & Development") {
		t.Errorf("HTMLエンティティがデコードされていません: %q", got)
	}
}

// TestSanitize_NormalizesWhitespace は連続する空白が正規化されることを検証する。
func TestSanitize_NormalizesWhitespace(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.Sanitize("<p>line one</p>\n\n<p>line   two</p>")
	if got != "line one line two" {
		t.Errorf("空白の正規化が不正: got %q, want %q", got, "line one line two")
	}
}

// TestSanitize_EmptyInput は空入力に空文字列を返すことを検証する。
func TestSanitize_EmptyInput(t *testing.T) {
	sanitizer := NewContentSanitizer()

	if got := sanitizer.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want \"\"", got)
	}
}

// TestSanitize_Idempotent は同一入力に対して常に同一出力を返すことを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := `<p>Fellowship in <strong>Kigali</strong></p><script>x()</script>`
	first := sanitizer.Sanitize(input)
	second := sanitizer.Sanitize(first)
	if first != second {
		t.Errorf("サニタイズが冪等ではありません: first=%q second=%q", first, second)
	}
}

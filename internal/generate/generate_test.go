package generate

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coupuas/threadauto/internal/logging"
)

func testGenerator() *Generator {
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewGenerator("", log)
}

func TestCleanHook(t *testing.T) {
	require.Equal(t, "이거 실화냐", cleanHook(`"이거 실화냐"`))
	require.Equal(t, "첫줄 둘째줄", cleanHook("첫줄\n둘째줄"))
	require.Equal(t, "대박", cleanHook("대박 #할인 #꿀템"))
	require.Equal(t, "좋음", cleanHook("좋음 不可"))
}

func TestFallbackHookTruncatesLongTitles(t *testing.T) {
	long := strings.Repeat("가", 40)
	hook := fallbackHook(long)
	require.Contains(t, hook, strings.Repeat("가", 15))
	require.NotContains(t, hook, strings.Repeat("가", 16))
}

func TestHookLine_NoKeyUsesFallback(t *testing.T) {
	hook := testGenerator().HookLine(context.Background(), "무선 청소기", "")
	require.Contains(t, hook, "무선 청소기")
}

func TestBuildPayload(t *testing.T) {
	p := testGenerator().BuildPayload(context.Background(), Product{
		Title:     "무선 청소기",
		URL:       "https://link.example/abc",
		ImagePath: "/tmp/img.jpg",
	})
	require.NotNil(t, p)
	require.Len(t, p.Paragraphs, 3)

	// Hook carries the media; only the first slot does.
	require.Equal(t, "/tmp/img.jpg", p.Paragraphs[0].MediaPath)
	require.Empty(t, p.Paragraphs[1].MediaPath)

	// The link paragraph carries the URL and the mandatory disclosure.
	require.Contains(t, p.Paragraphs[1].Text, "https://link.example/abc")
	require.Contains(t, p.Paragraphs[1].Text, disclosure)
	require.Contains(t, p.Paragraphs[2].Text, "활동 시 주의 사항")
}

func TestBuildPayload_MissingFieldsIsNil(t *testing.T) {
	g := testGenerator()
	require.Nil(t, g.BuildPayload(context.Background(), Product{URL: "https://x"}))
	require.Nil(t, g.BuildPayload(context.Background(), Product{Title: "t"}))
}

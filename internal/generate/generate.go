// Package generate turns product metadata into the paragraphs of a Threads
// post: an AI-written hook line, the affiliate link with its mandatory
// disclosure, and the partner-programme notice.
package generate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"

	"github.com/coupuas/threadauto/internal/logging"
)

// Paragraph is one slot of a thread. MediaPath, when set, names a local file
// attached to the slot.
type Paragraph struct {
	Text      string
	MediaPath string
}

// PostPayload is an ordered sequence of paragraphs ready for the composer.
type PostPayload struct {
	Title      string
	Paragraphs []Paragraph
}

// Product is the input the generator works from.
type Product struct {
	Title     string
	Keywords  string
	URL       string
	ImagePath string
}

// Coupang Partners requires this exact sentence on every affiliate post.
const disclosure = "이 포스팅은 쿠팡 파트너스 활동의 일환으로, 이에 따른 일정액의 수수료를 제공받습니다."

const activityNotice = `*활동 시 주의 사항

1. 게시글 작성 시, 아래 문구를 반드시 기재해 주세요.
"이 포스팅은 쿠팡 파트너스 활동의 일환으로, 이에 따른 일정액의 수수료를 제공받습니다."

쿠팡 파트너스의 활동은 공정거래위원회의 심사지침에 따라 추천, 보증인인 파트너스 회원과 당사의 경제적 이해관계에 대하여 공개하여야 합니다.

2. 바로가기 아이콘 이용 시, 수신자의 사전 동의를 얻지 않은 메신저, SNS 등으로 메시지를 발송하는 행위는 불법 스팸 전송 행위로 간주되어 규제기관의 행정제재 또는 형사 처벌의 대상이 될 수 있으니 이 점 유의하시기 바랍니다.`

const systemPrompt = `너는 Threads에 올릴 클릭을 유도하는 한줄 문구를 쓰는 카피라이터다.

규칙:
- 25~40자 정도로 작성
- 궁금해서 클릭할 수밖에 없는 문장
- 충격/반전/궁금증 유발
- 과장되고 재미있게
- 이모지 1~2개 사용
- 해시태그 금지
- 한국어만
- 한줄만 출력`

// Generator produces hook lines through the Anthropic API, with a canned
// fallback when no key is configured.
type Generator struct {
	apiKey string
	model  string
	log    logging.Logger
}

func NewGenerator(apiKey string, log logging.Logger) *Generator {
	return &Generator{
		apiKey: apiKey,
		model:  "claude-3-5-haiku-latest",
		log:    log,
	}
}

var (
	hanRe     = regexp.MustCompile(`[\x{4e00}-\x{9fff}]+`)
	hashtagRe = regexp.MustCompile(`#\S+`)
)

// cleanHook normalizes a model response into a single bare line: quotes,
// newlines, hashtags and stray Han characters removed.
func cleanHook(s string) string {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	s = strings.ReplaceAll(s, "\n", " ")
	s = hanRe.ReplaceAllString(s, "")
	s = hashtagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// fallbackHook is used when no API key is set or the model call fails. The
// truncation keeps the line inside the hook-length convention.
func fallbackHook(title string) string {
	runes := []rune(title)
	if len(runes) > 15 {
		runes = runes[:15]
	}
	return fmt.Sprintf("이거 보고 충동구매 했는데 후회 1도 없음 %s", string(runes))
}

// HookLine writes the first-paragraph teaser for a product.
func (g *Generator) HookLine(ctx context.Context, title, keywords string) string {
	if g.apiKey == "" {
		return fallbackHook(title)
	}

	userPrompt := fmt.Sprintf("상품명: %s", title)
	if keywords != "" {
		userPrompt += fmt.Sprintf("\n키워드: %s", keywords)
	}

	settings := types.RequestSettings{
		Model:       g.model,
		MaxTokens:   200,
		Temperature: 1.0,
	}
	resp, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, "", g.apiKey, settings)
	if err != nil {
		g.log.Warn(ctx, "hook generation failed, using fallback", "error", err)
		return fallbackHook(title)
	}
	if len(resp.Content) == 0 {
		g.log.Warn(ctx, "hook generation returned no content, using fallback")
		return fallbackHook(title)
	}

	hook := cleanHook(resp.Content[0].Text)
	if hook == "" {
		return fallbackHook(title)
	}
	return hook
}

// BuildPayload assembles the full thread for a product. Returns nil when the
// product lacks the fields a post needs; the caller treats nil as a parse
// failure and skips the item.
func (g *Generator) BuildPayload(ctx context.Context, p Product) *PostPayload {
	if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.URL) == "" {
		return nil
	}

	hook := g.HookLine(ctx, p.Title, p.Keywords)

	return &PostPayload{
		Title: p.Title,
		Paragraphs: []Paragraph{
			{Text: hook, MediaPath: p.ImagePath},
			{Text: fmt.Sprintf("👆제품 구경하기\n%s\n\n%s", p.URL, disclosure)},
			{Text: activityNotice},
		},
	}
}

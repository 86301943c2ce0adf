package retrieval

import (
	"fmt"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer 统计文本的 token 数，供 ContextComposer 做预算核算。
type Tokenizer interface {
	CountTokens(text string) int
}

// ====== tiktoken 适配 ======

// TiktokenCounter 基于 tiktoken 编码的计数器。
// 编码数据惰性初始化（首次使用时可能触发下载）；
// 初始化失败时回退到启发式估算并记录警告。
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	logger   *zap.Logger
}

// NewTiktokenCounter 创建 tiktoken 计数器。
// encoding 为空时使用 cl100k_base。
func NewTiktokenCounter(encoding string, logger *zap.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenCounter{
		encoding: encoding,
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens 返回文本的 token 数。
// 编码不可用时回退到启发式估算。
func (t *TiktokenCounter) CountTokens(text string) int {
	if err := t.init(); err != nil {
		t.logger.Warn("tiktoken unavailable, falling back to estimate", zap.Error(err))
		return estimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// ====== 启发式估算 ======

// EstimatorTokenizer 无外部数据依赖的启发式计数器。
// CJK 字符约 1 字 1 token，其余按 4 字符 1 token 估算。
type EstimatorTokenizer struct{}

// NewEstimatorTokenizer 创建启发式计数器。
func NewEstimatorTokenizer() *EstimatorTokenizer {
	return &EstimatorTokenizer{}
}

// CountTokens 估算文本的 token 数。
func (e *EstimatorTokenizer) CountTokens(text string) int {
	return estimateTokens(text)
}

func estimateTokens(text string) int {
	cjk := 0
	other := 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			other++
		}
	}
	count := cjk + (other+3)/4
	if count == 0 && len(text) > 0 {
		count = 1
	}
	return count
}

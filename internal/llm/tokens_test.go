package llm

import (
	"testing"

	"github.com/weaviate/tiktoken-go"
)

// fixtureRanks is a byte-level vocabulary with three merges, enough to make
// cl100k_base load without fetching the published rank file.
type fixtureRanks struct{}

func (fixtureRanks) LoadTiktokenBpe(string) (map[string]int, error) {
	ranks := make(map[string]int, 259)
	for b := 0; b < 256; b++ {
		ranks[string([]byte{byte(b)})] = b
	}
	ranks["he"] = 256
	ranks["ll"] = 257
	ranks["llo"] = 258
	return ranks, nil
}

func TestNilTokenCounterCountsZero(t *testing.T) {
	var c *TokenCounter
	if got := c.Count([]Message{{Role: "user", Content: "hello"}}); got != 0 {
		t.Fatalf("unexpected count: %d", got)
	}
}

func TestTokenCounterCountsMessages(t *testing.T) {
	tiktoken.SetBpeLoader(fixtureRanks{})
	t.Cleanup(func() { tiktoken.SetBpeLoader(tiktoken.NewDefaultBpeLoader()) })

	c, err := NewTokenCounter("")
	if err != nil {
		t.Fatalf("new counter: %v", err)
	}
	prompt := []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hello hello"},
	}
	// "hello" -> he|llo, " hello" -> " "|he|llo, plus 4 per message.
	if got := c.Count(prompt); got != 15 {
		t.Fatalf("unexpected count: %d", got)
	}
	if again := c.Count(prompt); again != 15 {
		t.Fatalf("count not stable: %d", again)
	}
}

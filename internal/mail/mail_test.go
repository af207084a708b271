package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	assert.IsType(t, LogMailer{}, New("", "Crystal", "from@example.com"))
	assert.IsType(t, &SendGridMailer{}, New("SG.key", "Crystal", "from@example.com"))
}

func TestPasswordResetEmail(t *testing.T) {
	e := PasswordResetEmail("ann@example.com", "https://crystal.example.com/reset", "a b")

	assert.Equal(t, "ann@example.com", e.To)
	assert.Contains(t, e.Plain, "https://crystal.example.com/reset?token=a+b")
	assert.Contains(t, e.Html, `href="https://crystal.example.com/reset?token=a+b"`)
}

func TestLogMailer(t *testing.T) {
	assert.NoError(t, LogMailer{}.Send(context.Background(), Email{To: "x@example.com"}))
}

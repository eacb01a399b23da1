package credit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebitClampsAtZero(t *testing.T) {
	l := NewLedger(2, OverdraftClamp)

	assert.Equal(t, 1, l.Debit(1))
	assert.Equal(t, 0, l.Debit(1))
	assert.Equal(t, 0, l.Debit(1))
	assert.Equal(t, 0, l.Balance())
	assert.Equal(t, 3, l.Debited())
}

func TestDebitIgnoresNonPositive(t *testing.T) {
	l := NewLedger(5, "")
	assert.Equal(t, 5, l.Debit(0))
	assert.Equal(t, 5, l.Debit(-3))
	assert.Equal(t, 0, l.Debited())
	assert.Equal(t, OverdraftClamp, l.Policy())
}

func TestNegativeSeed(t *testing.T) {
	assert.Equal(t, 0, NewLedger(-4, OverdraftClamp).Balance())
}

func TestConcurrentDebits(t *testing.T) {
	l := NewLedger(1000, OverdraftClamp)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				l.Debit(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, l.Balance())
	assert.Equal(t, 500, l.Debited())
}

func TestAvailable(t *testing.T) {
	clamp := NewLedger(3, OverdraftClamp)
	assert.Equal(t, -1, clamp.Available(10))

	refuse := NewLedger(3, OverdraftRefuse)
	assert.Equal(t, 3, refuse.Available(0))
	assert.Equal(t, 1, refuse.Available(2))
	assert.Equal(t, 0, refuse.Available(3))
	assert.Equal(t, 0, refuse.Available(7))
}

func TestParseOverdraft(t *testing.T) {
	for in, want := range map[string]Overdraft{"": OverdraftClamp, "clamp": OverdraftClamp, "refuse": OverdraftRefuse} {
		got, err := ParseOverdraft(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseOverdraft("negative")
	assert.Error(t, err)
}

package rabbitmq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		from, to Lifecycle
		allowed  bool
	}{
		{StateStopped, StateStarting, true},
		{StateStarting, StateRunning, true},
		{StateStarting, StateStopping, true},
		{StateRunning, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateStopped, StateRunning, false},
		{StateRunning, StateStarting, false},
		{StateRunning, StateStopped, false},
		{StateStopping, StateRunning, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			l := &lifecycle{state: tt.from}
			err := l.transition(tt.from, tt.to)
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.to, l.load())
				return
			}
			require.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tt.from, l.load())
		})
	}
}

func TestLifecycleUpdate(t *testing.T) {
	l := &lifecycle{}

	require.NoError(t, l.update(func(Lifecycle) (Lifecycle, error) { return StateStarting, nil }))
	assert.Equal(t, StateStarting, l.load())

	require.NoError(t, l.update(func(current Lifecycle) (Lifecycle, error) { return current, nil }))
	assert.Equal(t, StateStarting, l.load())

	err := l.update(func(Lifecycle) (Lifecycle, error) { return StateStopped, nil })
	require.ErrorIs(t, err, ErrInvalidTransition)

	sentinel := &RegistrationError{Err: ErrAlreadyRunning}
	err = l.update(func(Lifecycle) (Lifecycle, error) { return StateRunning, sentinel })
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, StateStarting, l.load())
}

package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// MockTimeProvider is a test double that allows controlling time.
type MockTimeProvider struct {
	currentTime time.Time
}

// Now returns the mock current time.
func (m *MockTimeProvider) Now() time.Time { return m.currentTime }

// Since returns the duration since the given time.
func (m *MockTimeProvider) Since(t time.Time) time.Duration { return m.currentTime.Sub(t) }

// Advance moves the mock time forward by the given duration.
func (m *MockTimeProvider) Advance(d time.Duration) { m.currentTime = m.currentTime.Add(d) }

// Set sets the mock time to the given time.
func (m *MockTimeProvider) Set(t time.Time) { m.currentTime = t }

// NewMockTimeProvider creates a new MockTimeProvider initialized to the given time.
func NewMockTimeProvider(t time.Time) *MockTimeProvider {
	return &MockTimeProvider{currentTime: t}
}

func TestTimeProvider_Default(t *testing.T) {
	t.Parallel()

	dp := DefaultTimeProvider{}

	before := time.Now()
	now := dp.Now()
	after := time.Now()

	assert.False(t, now.Before(before) || now.After(after), "DefaultTimeProvider.Now() should return current time")

	pastTime := time.Now().Add(-time.Hour)
	since := dp.Since(pastTime)
	assert.GreaterOrEqual(t, since, time.Hour)
	assert.Less(t, since, time.Hour+time.Second)
}

func TestTimeProvider_Package_Level(t *testing.T) {
	// Not parallel due to modifying package-level state

	original := GetDefaultTimeProvider()
	defer SetDefaultTimeProvider(original)

	mockTime := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockTimeProvider(mockTime)
	SetDefaultTimeProvider(mock)

	provider := GetDefaultTimeProvider()
	assert.Equal(t, mockTime, provider.Now())

	mock.Advance(time.Hour)
	expected := mockTime.Add(time.Hour)
	assert.Equal(t, expected, provider.Now())

	SetDefaultTimeProvider(nil)
	provider = GetDefaultTimeProvider()
	_, ok := provider.(DefaultTimeProvider)
	assert.True(t, ok, "SetDefaultTimeProvider(nil) should restore DefaultTimeProvider")
}

func TestMockTimeProvider_Advance(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockTimeProvider(fixedTime)

	assert.True(t, mock.Now().Equal(fixedTime))

	mock.Advance(time.Hour)
	expected := fixedTime.Add(time.Hour)
	assert.True(t, mock.Now().Equal(expected))

	since := mock.Since(fixedTime)
	assert.Equal(t, time.Hour, since)

	mock.Set(fixedTime)
	assert.True(t, mock.Now().Equal(fixedTime))
}

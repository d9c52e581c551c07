package ringlog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager_ReadUnknownKey(t *testing.T) {
	m := NewManager()
	assert.Nil(t, m.Read(42, 10))
}

func TestManager_AppendAndRead_NewestFirst(t *testing.T) {
	m := NewManager()
	m.Append(1, "a")
	m.Append(1, "b")
	m.Append(1, "c")

	got := m.Read(1, 10)
	assert.Equal(t, []string{"c", "b", "a"}, got)
}

func TestManager_ReadClampsToAvailable(t *testing.T) {
	m := NewManager()
	m.Append(1, "only")
	assert.Equal(t, []string{"only"}, m.Read(1, 5))
}

func TestManager_KeysAreIndependent(t *testing.T) {
	m := NewManager()
	m.Append(1, "one")
	m.Append(2, "two")
	assert.Equal(t, []string{"one"}, m.Read(1, 10))
	assert.Equal(t, []string{"two"}, m.Read(2, 10))
}

func TestManager_Forget(t *testing.T) {
	m := NewManager()
	m.Append(1, "a")
	m.Forget(1)
	assert.Nil(t, m.Read(1, 10))
}

func TestBuffer_WrapsAtCapacity(t *testing.T) {
	m := NewManager()
	for i := 0; i < capacity+10; i++ {
		m.Append(1, fmt.Sprintf("line-%d", i))
	}
	got := m.Read(1, 3)
	assert.Equal(t,
		[]string{
			fmt.Sprintf("line-%d", capacity+9),
			fmt.Sprintf("line-%d", capacity+8),
			fmt.Sprintf("line-%d", capacity+7),
		},
		got,
	)

	all := m.Read(1, 10000)
	assert.Len(t, all, capacity)
}

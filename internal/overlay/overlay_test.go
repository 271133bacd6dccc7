package overlay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverlay_RegisterAndQuery(t *testing.T) {
	o := New()

	assert.False(t, o.HasChildren("/ldap1/dc=example"))
	assert.Empty(t, o.ChildrenOf("/ldap1/dc=example"))

	o.RegisterChild("/ldap1/dc=example", "ou=new")
	o.RegisterChild("/ldap1/dc=example", "ou=other")
	o.RegisterChild("/ldap1/dc=example", "ou=new")

	assert.True(t, o.HasChildren("/ldap1/dc=example"))
	assert.Equal(t, []string{"ou=new", "ou=other"}, o.ChildrenOf("/ldap1/dc=example"))
	assert.True(t, o.Contains("/ldap1/dc=example", "ou=other"))
	assert.False(t, o.Contains("/ldap1/dc=example", "ou=missing"))
	assert.False(t, o.Contains("/ldap1", "ou=new"))
	assert.Equal(t, 2, o.Len())
}

func TestOverlay_ChildrenOfReturnsCopy(t *testing.T) {
	o := New()
	o.RegisterChild("/p", "a")

	children := o.ChildrenOf("/p")
	children[0] = "changed"

	assert.Equal(t, []string{"a"}, o.ChildrenOf("/p"))
}

func TestOverlay_ConcurrentRegister(t *testing.T) {
	o := New()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o.RegisterChild("/ldap1/dc=example", fmt.Sprintf("ou=%d", i%16))
			_ = o.ChildrenOf("/ldap1/dc=example")
		}(i)
	}
	wg.Wait()

	assert.Len(t, o.ChildrenOf("/ldap1/dc=example"), 16)
	assert.Equal(t, 16, o.Len())
}

package cluster

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soltixdb/distro/internal/logging"
)

func TestView_ConcurrentApplyDeliversLatest(t *testing.T) {
	v := newView("a:1", logging.NewDevelopment())
	rec := &recorder{}
	v.Subscribe(rec.fn)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.apply(map[string]bool{fmt.Sprintf("p%02d:1", i): true})
		}()
	}
	wg.Wait()

	assert.Equal(t, v.HealthyMembers(), rec.last())
}

func TestView_SubscriberCopiesAreIndependent(t *testing.T) {
	v := newView("a:1", logging.NewDevelopment())
	rec := &recorder{}
	v.Subscribe(rec.fn)

	v.apply(map[string]bool{"b:1": true})
	got := rec.last()
	got[0] = "mutated"

	assert.Equal(t, []string{"a:1", "b:1"}, v.HealthyMembers())
}

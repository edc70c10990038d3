package policy

import (
	"context"
	"sync"
	"testing"
)

// TestLinearWorkflowCascade runs the canonical three-block pipeline:
// start → mid → end, wired by run events. Triggering the head with a
// payload must leave the tail's per-user state reflecting that payload,
// with full isolation between users running concurrently.
func TestLinearWorkflowCascade(t *testing.T) {
	cfg := BlockConfig{
		UUID: "r", Tag: "root", BlockType: ContainerBlockType,
		Children: []BlockConfig{
			{UUID: "a", Tag: "start", BlockType: DocumentBlockType,
				Options: map[string]interface{}{
					"events": []interface{}{linkTo(RunEvent, "mid", RunEvent)},
				},
			},
			{UUID: "b", Tag: "mid", BlockType: DocumentBlockType,
				Options: map[string]interface{}{
					"events": []interface{}{linkTo(RunEvent, "end", RunEvent)},
				},
			},
			{UUID: "c", Tag: "end", BlockType: DocumentBlockType},
		},
	}

	ins, err := Activate(cfg, WithPolicyID("pol-linear"))
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	start, _ := ins.Tree().ByTag("start")
	end, _ := ins.Tree().ByTag("end")

	users := map[string]float64{"u1": 1, "u2": 2}

	var wg sync.WaitGroup
	errs := make(map[string]error)
	var mu sync.Mutex
	for user, x := range users {
		wg.Add(1)
		go func(user string, x float64) {
			defer wg.Done()
			err := ins.Dispatch(context.Background(), RunEvent, start, user,
				map[string]interface{}{"x": x})
			mu.Lock()
			errs[user] = err
			mu.Unlock()
		}(user, x)
	}
	wg.Wait()

	for user, x := range users {
		if errs[user] != nil {
			t.Fatalf("%s: cascade failed: %v", user, errs[user])
		}

		for _, tag := range []string{"start", "mid", "end"} {
			node, _ := ins.Tree().ByTag(tag)
			got := ins.States().Get(node.UUID, user)
			if got.Data["x"] != x {
				t.Errorf("%s: %s state = %v, want x=%v", user, tag, got.Data, x)
			}
		}

		// Reading again immediately returns the same reflected state.
		if again := ins.States().Get(end.UUID, user); again.Data["x"] != x {
			t.Errorf("%s: repeated read = %v, want x=%v", user, again.Data, x)
		}
	}
}

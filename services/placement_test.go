package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"sknet/models"
	"sknet/store"
)

func TestWorkedExample(t *testing.T) {
	h := newHarness(t)
	h.seedTier(t, 1, 2)
	root := h.root(t)

	a := h.place(t, root.ID, root.ID, models.LegLeft, "alice")
	b := h.place(t, a.Member.ID, a.Member.ID, models.LegRight, "bob")

	rs := h.stats(t, root.ID)
	if rs.LeftCount != 2 || rs.RightCount != 0 || rs.TotalCount != 2 {
		t.Errorf("root stats = left %d right %d total %d, want 2/0/2", rs.LeftCount, rs.RightCount, rs.TotalCount)
	}
	as := h.stats(t, a.Member.ID)
	if as.RightCount != 1 || as.LeftCount != 0 || as.TotalCount != 1 {
		t.Errorf("A stats = left %d right %d total %d, want 0/1/1", as.LeftCount, as.RightCount, as.TotalCount)
	}
	if bs := h.stats(t, b.Member.ID); bs.TotalCount != 0 {
		t.Errorf("B total = %d, want 0", bs.TotalCount)
	}

	rewards, err := h.net.MyRewards(context.Background(), root.ID)
	if err != nil {
		t.Fatalf("rewards: %v", err)
	}
	if len(rewards) != 1 || rewards[0].TierOrder != 1 || rewards[0].Status != models.RewardPending {
		t.Fatalf("root rewards = %+v, want one pending tier-1 reward", rewards)
	}
	if rs.CurrentRank != "1 Star" || rs.RankOrder != 1 {
		t.Errorf("root rank = %q (%d), want 1 Star", rs.CurrentRank, rs.RankOrder)
	}
	if ar, _ := h.net.MyRewards(context.Background(), a.Member.ID); len(ar) != 0 {
		t.Errorf("A should have no rewards, got %+v", ar)
	}
}

func TestPlacementLinksNode(t *testing.T) {
	h := newHarness(t)
	root := h.root(t)
	a := h.place(t, root.ID, root.ID, models.LegLeft, "alice")
	b := h.place(t, root.ID, a.Member.ID, models.LegLeft, "bob")

	if b.Node.Depth != a.Node.Depth+1 || a.Node.Depth != 1 {
		t.Errorf("depths = %d, %d", a.Node.Depth, b.Node.Depth)
	}
	want := []string{root.ID, a.Member.ID}
	if fmt.Sprint(b.Node.Ancestors) != fmt.Sprint(want) {
		t.Errorf("ancestors = %v, want %v", b.Node.Ancestors, want)
	}

	parent, err := h.store.GetTreeNode(context.Background(), a.Member.ID)
	if err != nil {
		t.Fatalf("parent node: %v", err)
	}
	if parent.LeftChildID != b.Member.ID {
		t.Errorf("parent left child = %q, want %q", parent.LeftChildID, b.Member.ID)
	}
	if got := h.stats(t, root.ID).DirectCount; got != 2 {
		t.Errorf("root directCount = %d, want 2", got)
	}
	if b.Member.Status != models.MemberActive || b.Member.SponsorID != root.ID {
		t.Errorf("member = %+v", b.Member)
	}
	if notes := h.notes.forUser(a.Member.ID); len(notes) == 0 || notes[0].Type != "member_placed" {
		t.Errorf("parent notifications = %+v", notes)
	}
}

func TestPlacementLegOccupiedRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	h.place(t, root.ID, root.ID, models.LegLeft, "alice")

	code := h.pin(t, root.ID)
	_, err := h.net.PlaceMember(ctx, PlacementRequest{
		IdempotencyKey: h.key(),
		PinCode:        code,
		SponsorID:      root.ID,
		UnderUserID:    root.ID,
		Leg:            models.LegLeft,
		Account:        account("carol"),
	})
	if !errors.Is(err, ErrLegOccupied) {
		t.Fatalf("want ErrLegOccupied, got %v", err)
	}

	pin, _ := h.store.GetPin(ctx, code)
	if pin.Status != models.PinUnused {
		t.Errorf("PIN consumed by failed placement: %+v", pin)
	}
	if _, err := h.store.FindMemberByLogin(ctx, "carol"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("member created by failed placement: %v", err)
	}
	if got := h.stats(t, root.ID).TotalCount; got != 1 {
		t.Errorf("root total = %d, want 1", got)
	}
}

func TestPlacementErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)

	base := func() PlacementRequest {
		return PlacementRequest{
			IdempotencyKey: h.key(),
			PinCode:        h.pin(t, root.ID),
			SponsorID:      root.ID,
			UnderUserID:    root.ID,
			Leg:            models.LegRight,
			Account:        account("dave"),
		}
	}

	req := base()
	req.UnderUserID = "nobody"
	if _, err := h.net.PlaceMember(ctx, req); !errors.Is(err, ErrParentNotFound) {
		t.Errorf("missing parent: got %v", err)
	}

	req = base()
	req.SponsorID = "nobody"
	if _, err := h.net.PlaceMember(ctx, req); !errors.Is(err, ErrSponsorNotFound) {
		t.Errorf("missing sponsor: got %v", err)
	}

	req = base()
	req.PinCode = "ZZZZZZZZZZZZ"
	if _, err := h.net.PlaceMember(ctx, req); !errors.Is(err, ErrPinNotFound) {
		t.Errorf("unknown pin: got %v", err)
	}

	req = base()
	req.Leg = "middle"
	if _, err := h.net.PlaceMember(ctx, req); KindOf(err) != KindValidation {
		t.Errorf("bad leg: got %v", err)
	}

	req = base()
	req.Account.Phone = "  "
	if _, err := h.net.PlaceMember(ctx, req); KindOf(err) != KindValidation {
		t.Errorf("missing phone: got %v", err)
	}

	req = base()
	req.Account.Password = "weakpass"
	if _, err := h.net.PlaceMember(ctx, req); KindOf(err) != KindValidation {
		t.Errorf("weak password: got %v", err)
	}

	req = base()
	req.Account = account("root")
	if _, err := h.net.PlaceMember(ctx, req); !errors.Is(err, ErrAccountTaken) {
		t.Errorf("taken username: got %v", err)
	}
}

func TestPlacementWithoutSponsor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)

	res, err := h.net.PlaceMember(ctx, PlacementRequest{
		IdempotencyKey: h.key(),
		PinCode:        h.pin(t, root.ID),
		UnderUserID:    root.ID,
		Leg:            models.LegLeft,
		Account:        account("orphan"),
	})
	if err != nil {
		t.Fatalf("place without sponsor: %v", err)
	}
	if res.Member.SponsorID != "" || res.Node.ParentUserID != root.ID {
		t.Errorf("member = %+v, node = %+v", res.Member, res.Node)
	}
	st := h.stats(t, root.ID)
	if st.DirectCount != 0 || st.LeftCount != 1 || st.TotalCount != 1 {
		t.Errorf("root stats = %+v", st)
	}
	placed := 0
	for _, note := range h.notes.forUser(root.ID) {
		switch note.Type {
		case "member_placed":
			placed++
		case "direct_referral":
			t.Errorf("direct referral sent without a sponsor: %+v", note)
		}
	}
	if placed != 1 {
		t.Errorf("member_placed notifications = %d, want 1", placed)
	}
}

func TestPlacementSameKeyIsDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)

	req := PlacementRequest{
		IdempotencyKey: "signup-1",
		PinCode:        h.pin(t, root.ID),
		SponsorID:      root.ID,
		UnderUserID:    root.ID,
		Leg:            models.LegLeft,
		Account:        account("erin"),
	}
	if _, err := h.net.PlaceMember(ctx, req); err != nil {
		t.Fatalf("first: %v", err)
	}
	req.PinCode = h.pin(t, root.ID)
	req.Leg = models.LegRight
	req.Account = account("frank")
	if _, err := h.net.PlaceMember(ctx, req); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("replay: want ErrDuplicate, got %v", err)
	}
	if got := h.stats(t, root.ID).TotalCount; got != 1 {
		t.Errorf("root total = %d, want 1", got)
	}
}

func TestSamePinCannotPlaceTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	code := h.pin(t, root.ID)

	place := func(leg models.Leg, name string) error {
		_, err := h.net.PlaceMember(ctx, PlacementRequest{
			IdempotencyKey: h.key(),
			PinCode:        code,
			SponsorID:      root.ID,
			UnderUserID:    root.ID,
			Leg:            leg,
			Account:        account(name),
		})
		return err
	}
	if err := place(models.LegLeft, "gina"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := place(models.LegRight, "hank"); !errors.Is(err, ErrPinAlreadyUsed) {
		t.Fatalf("second: want ErrPinAlreadyUsed, got %v", err)
	}
}

func TestCreateRootOnlyOnce(t *testing.T) {
	h := newHarness(t)
	root := h.root(t)

	node, err := h.store.GetTreeNode(context.Background(), root.ID)
	if err != nil {
		t.Fatalf("root node: %v", err)
	}
	if node.Depth != 0 || len(node.Ancestors) != 0 || !node.IsRoot() {
		t.Errorf("root node = %+v", node)
	}
	if _, err := h.net.CreateRoot(context.Background(), RootRequest{Account: account("second")}); !errors.Is(err, ErrRootExists) {
		t.Fatalf("second root: want ErrRootExists, got %v", err)
	}
}

// failingTiers breaks reward evaluation without touching placement.
type failingTiers struct {
	store.Store
}

func (failingTiers) ListRewardTiers(context.Context, bool) ([]models.RewardTier, error) {
	return nil, errors.New("tiers unavailable")
}

func TestRewardFailureDoesNotAbortPlacement(t *testing.T) {
	h := newHarnessWithStore(t, func(s store.Store) store.Store { return failingTiers{s} })
	root := h.root(t)

	a := h.place(t, root.ID, root.ID, models.LegLeft, "ivy")
	if a.Member.ID == "" {
		t.Fatal("placement returned no member")
	}
	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()
	want := fmt.Sprint([]string{root.ID, a.Member.ID})
	if fmt.Sprint(h.queue.ids) != want {
		t.Errorf("queued retries = %v, want %v", h.queue.ids, want)
	}
}

func TestLegSides(t *testing.T) {
	legs := map[string]models.Leg{"a": models.LegLeft, "b": models.LegRight}
	left, right, err := legSides([]string{"r", "a", "b"}, models.LegLeft, legs)
	if err != nil {
		t.Fatalf("legSides: %v", err)
	}
	// r reaches the new node through a (left), a through b (right), b directly (left).
	if fmt.Sprint(left) != "[r b]" || fmt.Sprint(right) != "[a]" {
		t.Errorf("left=%v right=%v", left, right)
	}

	if _, _, err := legSides([]string{"r", "x"}, models.LegLeft, legs); err == nil {
		t.Error("expected error for a path node without a leg")
	}
}

// TestLegSidesDeepPaths checks that every ancestor on an arbitrarily deep
// random path lands on exactly one side, matching the leg of its successor.
func TestLegSidesDeepPaths(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		depth := 1 + rng.Intn(300)
		path := make([]string, depth)
		legOf := map[string]models.Leg{}
		for i := range path {
			path[i] = fmt.Sprintf("n%d", i)
			if i > 0 {
				legOf[path[i]] = randomLeg(rng)
			}
		}
		newLeg := randomLeg(rng)

		left, right, err := legSides(path, newLeg, legOf)
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		if len(left)+len(right) != depth {
			t.Fatalf("trial %d: %d+%d sides for %d ancestors", trial, len(left), len(right), depth)
		}
		onLeft := map[string]bool{}
		for _, id := range left {
			onLeft[id] = true
		}
		for i, id := range path {
			want := newLeg
			if i+1 < depth {
				want = legOf[path[i+1]]
			}
			if onLeft[id] != (want == models.LegLeft) {
				t.Fatalf("trial %d: ancestor %s on wrong side", trial, id)
			}
		}
	}
}

func randomLeg(rng *rand.Rand) models.Leg {
	if rng.Intn(2) == 0 {
		return models.LegLeft
	}
	return models.LegRight
}

// TestPropagationMatchesSubtrees grows a random tree through the service
// and compares every member's counters with subtree sizes computed in memory.
func TestPropagationMatchesSubtrees(t *testing.T) {
	h := newHarness(t)
	root := h.root(t)
	rng := rand.New(rand.NewSource(42))

	type slot struct {
		parent string
		leg    models.Leg
	}
	children := map[string]map[models.Leg]string{root.ID: {}}
	ids := []string{root.ID}

	for i := 0; i < 25; i++ {
		var open []slot
		for _, id := range ids {
			for _, leg := range []models.Leg{models.LegLeft, models.LegRight} {
				if children[id][leg] == "" {
					open = append(open, slot{id, leg})
				}
			}
		}
		s := open[rng.Intn(len(open))]
		res := h.place(t, root.ID, s.parent, s.leg, fmt.Sprintf("m%02d", i))
		children[s.parent][s.leg] = res.Member.ID
		children[res.Member.ID] = map[models.Leg]string{}
		ids = append(ids, res.Member.ID)
	}

	var size func(id string) int64
	size = func(id string) int64 {
		if id == "" {
			return 0
		}
		return 1 + size(children[id][models.LegLeft]) + size(children[id][models.LegRight])
	}
	for _, id := range ids {
		st := h.stats(t, id)
		wantLeft := size(children[id][models.LegLeft])
		wantRight := size(children[id][models.LegRight])
		if st.LeftCount != wantLeft || st.RightCount != wantRight {
			t.Errorf("%s: left/right = %d/%d, want %d/%d", id, st.LeftCount, st.RightCount, wantLeft, wantRight)
		}
		if st.TotalCount != st.LeftCount+st.RightCount {
			t.Errorf("%s: total %d != left+right", id, st.TotalCount)
		}
	}
}

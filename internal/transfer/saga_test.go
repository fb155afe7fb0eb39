package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"identity_backend/internal/events"
	"identity_backend/internal/tenants"
	"identity_backend/internal/users"
	"identity_backend/internal/users/repository"
	"identity_backend/platform/apperr"
	"identity_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeSagaResolver struct {
	tc  tenants.TenantContext
	err error
}

func (f *fakeSagaResolver) ResolveByID(_ context.Context, _ string) (tenants.TenantContext, error) {
	return f.tc, f.err
}

// fakeStore is an in-memory Store with per-operation failure injection. Role
// mutations mirror the production semantics: AddRole is idempotent, RemoveRole
// deletes unconditionally, and every mutation commits independently.
type fakeStore struct {
	mu           sync.Mutex
	usersByEmail map[string]users.User
	roles        map[uuid.UUID]map[users.Role]bool

	addRoleErr    func(userID uuid.UUID, role users.Role) error
	removeRoleErr func(userID uuid.UUID, role users.Role) error

	mutations int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		usersByEmail: make(map[string]users.User),
		roles:        make(map[uuid.UUID]map[users.Role]bool),
	}
}

func (f *fakeStore) addUser(email string, role users.Role) users.User {
	user := users.User{ID: uuid.New(), Email: email, TenantID: "acme"}
	f.usersByEmail[email] = user
	f.roles[user.ID] = map[users.Role]bool{role: true}
	return user
}

func (f *fakeStore) FindByEmail(_ context.Context, email string) (users.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.usersByEmail[email]
	if !ok {
		return users.User{}, repository.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) FindByID(_ context.Context, id uuid.UUID) (users.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.usersByEmail {
		if user.ID == id {
			return user, nil
		}
	}
	return users.User{}, repository.ErrNotFound
}

func (f *fakeStore) Create(_ context.Context, user users.User, _ string) (users.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.usersByEmail[user.Email]; exists {
		return users.User{}, repository.ErrDuplicateEmail
	}
	user.ID = uuid.New()
	f.usersByEmail[user.Email] = user
	f.roles[user.ID] = map[users.Role]bool{}
	f.mutations++
	return user, nil
}

func (f *fakeStore) Update(_ context.Context, user users.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usersByEmail[user.Email] = user
	f.mutations++
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for email, user := range f.usersByEmail {
		if user.ID == id {
			delete(f.usersByEmail, email)
			delete(f.roles, id)
			f.mutations++
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeStore) AddRole(_ context.Context, userID uuid.UUID, role users.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addRoleErr != nil {
		if err := f.addRoleErr(userID, role); err != nil {
			return err
		}
	}
	if f.roles[userID] == nil {
		f.roles[userID] = map[users.Role]bool{}
	}
	f.roles[userID][role] = true
	f.mutations++
	return nil
}

func (f *fakeStore) RemoveRole(_ context.Context, userID uuid.UUID, role users.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeRoleErr != nil {
		if err := f.removeRoleErr(userID, role); err != nil {
			return err
		}
	}
	delete(f.roles[userID], role)
	f.mutations++
	return nil
}

func (f *fakeStore) ListRoles(_ context.Context, userID uuid.UUID) ([]users.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []users.Role
	for _, role := range []users.Role{users.RolePrimaryOwner, users.RoleOwner, users.RoleAdmin, users.RoleUser} {
		if f.roles[userID][role] {
			out = append(out, role)
		}
	}
	return out, nil
}

func (f *fakeStore) Close() {}

func (f *fakeStore) rolesOf(t *testing.T, userID uuid.UUID) []users.Role {
	t.Helper()
	roles, err := f.ListRoles(context.Background(), userID)
	if err != nil {
		t.Fatalf("listing roles: %v", err)
	}
	return roles
}

func (f *fakeStore) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutations
}

// fakeTokens implements token.Provider in memory with single-use semantics.
type fakeTokens struct {
	mu     sync.Mutex
	stored map[string]string
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{stored: make(map[string]string)}
}

func principalKey(tenantID string, userID uuid.UUID, purpose string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, userID, purpose)
}

func (f *fakeTokens) Issue(_ context.Context, tenantID string, userID uuid.UUID, purpose string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw := "tok-" + uuid.NewString()
	f.stored[principalKey(tenantID, userID, purpose)] = raw
	return raw, nil
}

func (f *fakeTokens) Redeem(_ context.Context, tenantID string, userID uuid.UUID, purpose string, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := principalKey(tenantID, userID, purpose)
	stored, ok := f.stored[key]
	if !ok || stored != token {
		return false, nil
	}
	delete(f.stored, key)
	return true, nil
}

// fakeLocker gives in-process mutual exclusion per tenant.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) Acquire(_ context.Context, tenantID string) (func(context.Context), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[tenantID] {
		return nil, ErrTransferInProgress
	}
	f.held[tenantID] = true
	return func(context.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, tenantID)
	}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) countByName(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, event := range p.events {
		if event.EventName() == name {
			n++
		}
	}
	return n
}

type sagaFixture struct {
	saga      *Saga
	store     *fakeStore
	tokens    *fakeTokens
	locks     *fakeLocker
	publisher *recordingPublisher
	alice     users.User
	bob       users.User
}

// newSagaFixture builds a tenant with alice as primary owner and bob as
// owner, backed entirely by in-memory fakes.
func newSagaFixture(t *testing.T) *sagaFixture {
	t.Helper()

	store := newFakeStore()
	alice := store.addUser("alice@acme.test", users.RolePrimaryOwner)
	bob := store.addUser("bob@acme.test", users.RoleOwner)

	tokens := newFakeTokens()
	locks := newFakeLocker()
	publisher := &recordingPublisher{}

	resolver := &fakeSagaResolver{tc: tenants.TenantContext{
		TenantID:         "acme",
		DatabaseUsername: "acme",
		DatabasePassword: "pw",
		Enabled:          true,
	}}
	factory := repository.Factory(func(context.Context, tenants.TenantContext) (repository.Store, error) {
		return store, nil
	})

	return &sagaFixture{
		saga:      NewSaga(resolver, factory, tokens, locks, publisher, logger.New("development")),
		store:     store,
		tokens:    tokens,
		locks:     locks,
		publisher: publisher,
		alice:     alice,
		bob:       bob,
	}
}

func (f *sagaFixture) issueToken(t *testing.T) string {
	t.Helper()
	raw, err := f.saga.GenerateToken(context.Background(), "acme", f.alice.Email)
	if err != nil {
		t.Fatalf("generating transfer token: %v", err)
	}
	return raw
}

func (f *sagaFixture) assertRoles(t *testing.T, user users.User, want ...users.Role) {
	t.Helper()
	got := f.store.rolesOf(t, user.ID)
	if len(got) != len(want) {
		t.Fatalf("%s holds roles %v, want %v", user.Email, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s holds roles %v, want %v", user.Email, got, want)
		}
	}
}

func TestGenerateTokenRequiresApexHolder(t *testing.T) {
	f := newSagaFixture(t)

	_, err := f.saga.GenerateToken(context.Background(), "acme", f.bob.Email)
	if !apperr.Is(err, apperr.KindAuthorizationDenied) {
		t.Fatalf("expected authorization denied for non-apex owner, got %v", err)
	}
}

func TestGenerateTokenPublishesDeliveryEvent(t *testing.T) {
	f := newSagaFixture(t)

	raw := f.issueToken(t)
	if raw == "" {
		t.Fatal("generated token is empty")
	}
	if got := f.publisher.countByName(events.OwnershipTransferTokenGenerated{}.EventName()); got != 1 {
		t.Fatalf("expected 1 token generated event, got %d", got)
	}
}

func TestExecuteTransferSwapsApexAndPublishesOnce(t *testing.T) {
	f := newSagaFixture(t)
	raw := f.issueToken(t)

	outcome, err := f.saga.ExecuteTransfer(context.Background(), "acme", f.alice.Email, f.bob.Email, raw)
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want Completed", outcome)
	}

	f.assertRoles(t, f.alice, users.RoleOwner)
	f.assertRoles(t, f.bob, users.RolePrimaryOwner)

	if got := f.publisher.countByName(events.OwnershipTransferred{}.EventName()); got != 1 {
		t.Fatalf("expected exactly 1 transfer completed event, got %d", got)
	}
	if got := f.publisher.countByName(events.OwnershipTransferRejected{}.EventName()); got != 0 {
		t.Fatalf("expected no rejection events, got %d", got)
	}
}

func TestExecuteTransferInvalidTokenMutatesNothing(t *testing.T) {
	f := newSagaFixture(t)
	f.issueToken(t)
	before := f.store.mutationCount()

	outcome, err := f.saga.ExecuteTransfer(context.Background(), "acme", f.alice.Email, f.bob.Email, "not-the-token")
	if !apperr.Is(err, apperr.KindInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
	if outcome != OutcomeAbortedNoChange {
		t.Fatalf("outcome = %v, want Aborted-NoChange", outcome)
	}
	if f.store.mutationCount() != before {
		t.Fatal("aborted transfer mutated the store")
	}
	f.assertRoles(t, f.alice, users.RolePrimaryOwner)
	f.assertRoles(t, f.bob, users.RoleOwner)
	if got := f.publisher.countByName(events.OwnershipTransferRejected{}.EventName()); got != 1 {
		t.Fatalf("expected 1 rejection event, got %d", got)
	}
}

func TestExecuteTransferTokenIsSingleUse(t *testing.T) {
	f := newSagaFixture(t)
	raw := f.issueToken(t)

	if _, err := f.saga.ExecuteTransfer(context.Background(), "acme", f.alice.Email, f.bob.Email, raw); err != nil {
		t.Fatalf("first transfer failed: %v", err)
	}

	outcome, err := f.saga.ExecuteTransfer(context.Background(), "acme", f.alice.Email, f.bob.Email, raw)
	if !apperr.Is(err, apperr.KindInvalidToken) {
		t.Fatalf("expected invalid token on replay, got %v", err)
	}
	if outcome != OutcomeAbortedNoChange {
		t.Fatalf("outcome = %v, want Aborted-NoChange", outcome)
	}
	f.assertRoles(t, f.alice, users.RoleOwner)
	f.assertRoles(t, f.bob, users.RolePrimaryOwner)
}

func TestExecuteTransferRejectsNonApexCommander(t *testing.T) {
	f := newSagaFixture(t)

	// A token bound to bob, who is only an Owner.
	raw, err := f.tokens.Issue(context.Background(), "acme", f.bob.ID, PurposeOwnershipTransfer)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	outcome, err := f.saga.ExecuteTransfer(context.Background(), "acme", f.bob.Email, f.alice.Email, raw)
	if !apperr.Is(err, apperr.KindAuthorizationDenied) {
		t.Fatalf("expected authorization denied, got %v", err)
	}
	if outcome != OutcomeAbortedNoChange {
		t.Fatalf("outcome = %v, want Aborted-NoChange", outcome)
	}
	f.assertRoles(t, f.alice, users.RolePrimaryOwner)
	f.assertRoles(t, f.bob, users.RoleOwner)
}

func TestExecuteTransferUnknownTargetAbortsBeforeRedemption(t *testing.T) {
	f := newSagaFixture(t)
	raw := f.issueToken(t)

	outcome, err := f.saga.ExecuteTransfer(context.Background(), "acme", f.alice.Email, "nobody@acme.test", raw)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if outcome != OutcomeAbortedNoChange {
		t.Fatalf("outcome = %v, want Aborted-NoChange", outcome)
	}

	// The token survives the aborted attempt and the transfer still works.
	if _, err := f.saga.ExecuteTransfer(context.Background(), "acme", f.alice.Email, f.bob.Email, raw); err != nil {
		t.Fatalf("retry with surviving token failed: %v", err)
	}
}

func TestExecuteTransferCompensatesOnApexRemovalFailure(t *testing.T) {
	f := newSagaFixture(t)
	raw := f.issueToken(t)

	// Fail sub-step 5b: removing the commanding user's apex role.
	f.store.removeRoleErr = func(userID uuid.UUID, role users.Role) error {
		if userID == f.alice.ID && role == users.RolePrimaryOwner {
			return errors.New("injected failure")
		}
		return nil
	}

	outcome, err := f.saga.ExecuteTransfer(context.Background(), "acme", f.alice.Email, f.bob.Email, raw)
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if outcome != OutcomeAbortedCompensated {
		t.Fatalf("outcome = %v, want Aborted-Compensated", outcome)
	}

	// Pre-transfer role assignments are restored exactly.
	f.assertRoles(t, f.alice, users.RolePrimaryOwner)
	f.assertRoles(t, f.bob, users.RoleOwner)
	if got := f.publisher.countByName(events.OwnershipTransferred{}.EventName()); got != 0 {
		t.Fatalf("compensated transfer must not publish completion, got %d events", got)
	}
	if got := f.publisher.countByName(events.OwnershipTransferRejected{}.EventName()); got != 1 {
		t.Fatalf("expected 1 rejection event, got %d", got)
	}
}

func TestExecuteTransferCompensatesOnTargetPromotionFailure(t *testing.T) {
	f := newSagaFixture(t)
	raw := f.issueToken(t)

	// Fail sub-step 5c: granting the target the apex role.
	f.store.addRoleErr = func(userID uuid.UUID, role users.Role) error {
		if userID == f.bob.ID && role == users.RolePrimaryOwner {
			return errors.New("injected failure")
		}
		return nil
	}

	outcome, err := f.saga.ExecuteTransfer(context.Background(), "acme", f.alice.Email, f.bob.Email, raw)
	if outcome != OutcomeAbortedCompensated {
		t.Fatalf("outcome = %v (err %v), want Aborted-Compensated", outcome, err)
	}
	f.assertRoles(t, f.alice, users.RolePrimaryOwner)
	f.assertRoles(t, f.bob, users.RoleOwner)
}

func TestExecuteTransferCompensatesOnPriorRoleRemovalFailure(t *testing.T) {
	f := newSagaFixture(t)
	raw := f.issueToken(t)

	// Fail sub-step 5d: removing the target's prior role.
	f.store.removeRoleErr = func(userID uuid.UUID, role users.Role) error {
		if userID == f.bob.ID && role == users.RoleOwner {
			return errors.New("injected failure")
		}
		return nil
	}

	outcome, err := f.saga.ExecuteTransfer(context.Background(), "acme", f.alice.Email, f.bob.Email, raw)
	if outcome != OutcomeAbortedCompensated {
		t.Fatalf("outcome = %v (err %v), want Aborted-Compensated", outcome, err)
	}
	f.assertRoles(t, f.alice, users.RolePrimaryOwner)
	f.assertRoles(t, f.bob, users.RoleOwner)
}

func TestExecuteTransferReportsInconsistencyWhenRollbackFails(t *testing.T) {
	f := newSagaFixture(t)
	raw := f.issueToken(t)

	// Sub-step 5c fails, and so does the rollback's attempt to restore the
	// commanding user's apex role.
	f.store.addRoleErr = func(userID uuid.UUID, role users.Role) error {
		if role == users.RolePrimaryOwner {
			return errors.New("injected failure")
		}
		return nil
	}

	outcome, err := f.saga.ExecuteTransfer(context.Background(), "acme", f.alice.Email, f.bob.Email, raw)
	if !apperr.Is(err, apperr.KindIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if outcome != OutcomeAbortedInconsistent {
		t.Fatalf("outcome = %v, want Aborted-Inconsistent", outcome)
	}
}

func TestExecuteTransferLockContention(t *testing.T) {
	f := newSagaFixture(t)
	raw := f.issueToken(t)

	release, err := f.locks.Acquire(context.Background(), "acme")
	if err != nil {
		t.Fatalf("pre-acquiring lock: %v", err)
	}
	defer release(context.Background())

	outcome, err := f.saga.ExecuteTransfer(context.Background(), "acme", f.alice.Email, f.bob.Email, raw)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict while lock is held, got %v", err)
	}
	if outcome != OutcomeAbortedNoChange {
		t.Fatalf("outcome = %v, want Aborted-NoChange", outcome)
	}
}

func TestConcurrentTransfersLeaveExactlyOneApexHolder(t *testing.T) {
	f := newSagaFixture(t)
	carol := f.store.addUser("carol@acme.test", users.RoleAdmin)
	raw := f.issueToken(t)

	var wg sync.WaitGroup
	run := func(targetEmail string) {
		defer wg.Done()
		_, _ = f.saga.ExecuteTransfer(context.Background(), "acme", f.alice.Email, targetEmail, raw)
	}
	wg.Add(2)
	go run(f.bob.Email)
	go run(carol.Email)
	wg.Wait()

	apexHolders := 0
	for _, user := range []users.User{f.alice, f.bob, carol} {
		for _, role := range f.store.rolesOf(t, user.ID) {
			if role.IsApex() {
				apexHolders++
			}
		}
	}
	if apexHolders != 1 {
		t.Fatalf("expected exactly 1 apex holder after concurrent transfers, got %d", apexHolders)
	}
	if got := f.publisher.countByName(events.OwnershipTransferred{}.EventName()); got != 1 {
		t.Fatalf("expected exactly 1 completion event, got %d", got)
	}
}

func TestExecuteTransferResolutionFailureAbortsCleanly(t *testing.T) {
	f := newSagaFixture(t)
	raw := f.issueToken(t)

	failing := &fakeSagaResolver{err: apperr.TenantResolution("registry unreachable")}
	saga := NewSaga(failing, func(context.Context, tenants.TenantContext) (repository.Store, error) {
		return f.store, nil
	}, f.tokens, f.locks, f.publisher, logger.New("development"))

	outcome, err := saga.ExecuteTransfer(context.Background(), "acme", f.alice.Email, f.bob.Email, raw)
	if !apperr.Is(err, apperr.KindTenantResolution) {
		t.Fatalf("expected tenant resolution error, got %v", err)
	}
	if outcome != OutcomeAbortedNoChange {
		t.Fatalf("outcome = %v, want Aborted-NoChange", outcome)
	}
	f.assertRoles(t, f.alice, users.RolePrimaryOwner)
	f.assertRoles(t, f.bob, users.RoleOwner)
}

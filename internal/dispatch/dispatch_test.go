package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/subwatch/internal/condition"
	"github.com/gyaneshwarpardhi/subwatch/internal/config"
	"github.com/gyaneshwarpardhi/subwatch/internal/dispatch"
	"github.com/gyaneshwarpardhi/subwatch/internal/event"
	"github.com/gyaneshwarpardhi/subwatch/internal/record"
	"github.com/gyaneshwarpardhi/subwatch/internal/store/memory"
	"github.com/gyaneshwarpardhi/subwatch/internal/template"
)

type fixture struct {
	store  *memory.Store
	disp   *dispatch.Dispatcher
	userID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		store:  memory.New(),
		userID: uuid.New(),
	}
}

func (f *fixture) dispatcher() *dispatch.Dispatcher {
	if f.disp == nil {
		f.disp = dispatch.New(f.store, condition.NewExprEvaluator(), template.NewTokenRenderer(), nil)
	}
	return f.disp
}

// seedUser registers a user, optionally with a locale setting.
func (f *fixture) seedUser(userID uuid.UUID, locale any) {
	f.store.Seed(record.New(dispatch.EntityUser, userID))
	if locale != nil {
		settings := record.New(dispatch.EntityUserSettings, uuid.New()).
			Set("systemuserid", userID).
			Set(dispatch.FieldLocale, locale)
		f.store.Seed(settings)
	}
}

// seedSubscription registers an active subscription on the target.
func (f *fixture) seedSubscription(lookup string, target record.Reference, ownerID uuid.UUID) *record.Record {
	sub := record.New(dispatch.EntitySubscription, uuid.New()).
		Set(lookup, target).
		Set(dispatch.FieldState, dispatch.StateActive).
		Set(dispatch.FieldOwner, record.Reference{Entity: dispatch.EntityUser, ID: ownerID})
	f.store.Seed(sub)
	return sub
}

func baseConfig() *config.DispatchConfig {
	return &config.DispatchConfig{
		CapturedFields:     []string{"description"},
		SubscriptionLookup: "oss_incidentid",
		NotificationLookup: "oss_incidentid",
		NotifyCurrentUser:  true,
	}
}

func notifications(t *testing.T, s *memory.Store) []*record.Record {
	t.Helper()
	return s.All(dispatch.EntityNotification)
}

func decodePayload(t *testing.T, n *record.Record) dispatch.Payload {
	t.Helper()
	raw := n.String(dispatch.FieldData)
	var p dispatch.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("decode payload %q: %v", raw, err)
	}
	return p
}

func TestDispatch_SimpleNotificationOnUpdate(t *testing.T) {
	f := newFixture(t)
	incident := record.New("incident", uuid.New()).
		Set("description", "NaNaNaNaNaNaNaNa Batman").
		Set("test", "This should be filtered out")
	f.seedUser(f.userID, nil)
	f.seedSubscription("oss_incidentid", incident.Ref(), f.userID)

	res, err := f.dispatcher().Dispatch(context.Background(), baseConfig(), &event.Event{
		Operation: "Update",
		ActorID:   f.userID,
		Record:    incident,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Created() != 1 {
		t.Fatalf("created %d notifications, want 1", res.Created())
	}

	ns := notifications(t, f.store)
	if len(ns) != 1 {
		t.Fatalf("store holds %d notifications, want 1", len(ns))
	}
	n := ns[0]

	owner, ok := n.RefField(dispatch.FieldOwner)
	if !ok || owner.ID != f.userID {
		t.Errorf("owner = %v, want %s", owner, f.userID)
	}
	lookup, ok := n.RefField("oss_incidentid")
	if !ok || lookup != incident.Ref() {
		t.Errorf("notification lookup = %v, want %v", lookup, incident.Ref())
	}
	if kindVal, _ := n.Get(dispatch.FieldEventKind); kindVal != int(event.KindUpdate) {
		t.Errorf("event kind = %v, want %d", kindVal, int(event.KindUpdate))
	}

	p := decodePayload(t, n)
	if p.EventRecordReference != incident.Ref() {
		t.Errorf("payload reference = %v, want %v", p.EventRecordReference, incident.Ref())
	}
	if !reflect.DeepEqual(p.UpdatedFields, []string{"description"}) {
		t.Errorf("updated fields = %v, want [description]", p.UpdatedFields)
	}
}

func TestDispatch_ParentIndirectionOnChildCreate(t *testing.T) {
	f := newFixture(t)
	incident := record.New("incident", uuid.New()).
		Set("description", "NaNaNaNaNaNaNaNa Batman")
	task := record.New("task", uuid.New()).
		Set("title", "Test").
		Set("regardingobjectid", incident.Ref())
	f.seedUser(f.userID, nil)
	f.seedSubscription("oss_incidentid", incident.Ref(), f.userID)

	cfg := baseConfig()
	cfg.CapturedFields = []string{"title"}
	cfg.ParentLookup = "regardingobjectid"

	res, err := f.dispatcher().Dispatch(context.Background(), cfg, &event.Event{
		Operation: "Create",
		ActorID:   f.userID,
		Record:    task,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Created() != 1 {
		t.Fatalf("created %d notifications, want 1", res.Created())
	}
	if res.Target == nil || *res.Target != incident.Ref() {
		t.Errorf("target = %v, want %v", res.Target, incident.Ref())
	}

	n := notifications(t, f.store)[0]
	if lookup, _ := n.RefField("oss_incidentid"); lookup != incident.Ref() {
		t.Errorf("notification lookup = %v, want parent %v", lookup, incident.Ref())
	}
	if kindVal, _ := n.Get(dispatch.FieldEventKind); kindVal != int(event.KindCreate) {
		t.Errorf("event kind = %v, want %d", kindVal, int(event.KindCreate))
	}

	p := decodePayload(t, n)
	// The payload reference stays on the changed record, not the parent.
	if p.EventRecordReference != task.Ref() {
		t.Errorf("payload reference = %v, want %v", p.EventRecordReference, task.Ref())
	}
	if !reflect.DeepEqual(p.UpdatedFields, []string{"title"}) {
		t.Errorf("updated fields = %v, want [title]", p.UpdatedFields)
	}
}

func TestDispatch_ParentLookupFallsBackToPreImage(t *testing.T) {
	f := newFixture(t)
	incident := record.New("incident", uuid.New())
	task := record.New("task", uuid.New()).
		Set("title", "Renamed")
	pre := record.New("task", task.ID).
		Set("regardingobjectid", incident.Ref())
	f.seedUser(f.userID, nil)
	f.seedSubscription("oss_incidentid", incident.Ref(), f.userID)

	cfg := baseConfig()
	cfg.CapturedFields = nil
	cfg.ParentLookup = "regardingobjectid"

	res, err := f.dispatcher().Dispatch(context.Background(), cfg, &event.Event{
		Operation: "Update",
		ActorID:   f.userID,
		Record:    task,
		PreImage:  pre,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Created() != 1 {
		t.Fatalf("created %d notifications, want 1", res.Created())
	}
	if res.Target == nil || res.Target.ID != incident.ID {
		t.Errorf("target = %v, want %v", res.Target, incident.Ref())
	}
}

func TestDispatch_NoTargetAbortsSilently(t *testing.T) {
	f := newFixture(t)
	task := record.New("task", uuid.New()).Set("title", "orphan")

	cfg := baseConfig()
	cfg.ParentLookup = "regardingobjectid"

	res, err := f.dispatcher().Dispatch(context.Background(), cfg, &event.Event{
		Operation: "Update",
		ActorID:   f.userID,
		Record:    task,
	})
	if err != nil {
		t.Fatalf("no-target dispatch must not error: %v", err)
	}
	if res.Aborted != dispatch.AbortNoTarget {
		t.Errorf("aborted = %q, want %q", res.Aborted, dispatch.AbortNoTarget)
	}
	if len(notifications(t, f.store)) != 0 {
		t.Error("no notifications expected")
	}
}

func TestDispatch_SkipsCurrentUser(t *testing.T) {
	f := newFixture(t)
	incident := record.New("incident", uuid.New()).Set("description", "D")
	f.seedUser(f.userID, nil)
	f.seedSubscription("oss_incidentid", incident.Ref(), f.userID)

	cfg := baseConfig()
	cfg.NotifyCurrentUser = false

	res, err := f.dispatcher().Dispatch(context.Background(), cfg, &event.Event{
		Operation: "Update",
		ActorID:   f.userID, // actor owns the only subscription
		Record:    incident,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Created() != 0 {
		t.Errorf("created %d notifications, want 0", res.Created())
	}

	// Another user's subscription still fires.
	otherID := uuid.New()
	f.seedUser(otherID, nil)
	f.seedSubscription("oss_incidentid", incident.Ref(), otherID)

	res, err = f.dispatcher().Dispatch(context.Background(), cfg, &event.Event{
		Operation: "Update",
		ActorID:   f.userID,
		Record:    incident,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Created() != 1 {
		t.Fatalf("created %d notifications, want 1", res.Created())
	}
	owner, _ := notifications(t, f.store)[0].RefField(dispatch.FieldOwner)
	if owner.ID != otherID {
		t.Errorf("owner = %s, want %s", owner.ID, otherID)
	}
}

func TestDispatch_ConditionGate(t *testing.T) {
	cases := []struct {
		name      string
		condition string
		desc      string
		want      int
	}{
		{name: "empty condition passes", condition: "", desc: "x", want: 1},
		{name: "condition true", condition: `description == "go"`, desc: "go", want: 1},
		{name: "condition false", condition: `description == "go"`, desc: "stop", want: 0},
		{name: "condition references missing field", condition: `nosuch == "x"`, desc: "go", want: 0},
		{name: "condition unparseable", condition: `description ==`, desc: "go", want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			incident := record.New("incident", uuid.New()).Set("description", tc.desc)
			f.seedUser(f.userID, nil)
			f.seedSubscription("oss_incidentid", incident.Ref(), f.userID)

			cfg := baseConfig()
			cfg.Condition = tc.condition

			res, err := f.dispatcher().Dispatch(context.Background(), cfg, &event.Event{
				Operation: "Update",
				ActorID:   f.userID,
				Record:    incident,
			})
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if res.Created() != tc.want {
				t.Errorf("created %d notifications, want %d", res.Created(), tc.want)
			}
		})
	}
}

// stringEvaluator returns a canned result regardless of the expression.
type stringEvaluator struct {
	result string
	err    error
}

func (s stringEvaluator) Evaluate(string, *record.Record) (string, error) {
	return s.result, s.err
}

func TestDispatch_NonBooleanConditionResultSuppresses(t *testing.T) {
	cases := []struct {
		name string
		eval stringEvaluator
		want int
	}{
		{name: "uppercase TRUE", eval: stringEvaluator{result: "TRUE"}, want: 1},
		{name: "non boolean", eval: stringEvaluator{result: "banana"}, want: 0},
		{name: "evaluator error", eval: stringEvaluator{err: errors.New("boom")}, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			incident := record.New("incident", uuid.New()).Set("description", "D")
			f.seedUser(f.userID, nil)
			f.seedSubscription("oss_incidentid", incident.Ref(), f.userID)

			cfg := baseConfig()
			cfg.Condition = "anything"

			disp := dispatch.New(f.store, tc.eval, template.NewTokenRenderer(), nil)
			res, err := disp.Dispatch(context.Background(), cfg, &event.Event{
				Operation: "Update",
				ActorID:   f.userID,
				Record:    incident,
			})
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if res.Created() != tc.want {
				t.Errorf("created %d notifications, want %d", res.Created(), tc.want)
			}
		})
	}
}

func TestDispatch_LocaleRendering(t *testing.T) {
	f := newFixture(t)
	incident := record.New("incident", uuid.New()).Set("name", "Widget")

	french := uuid.New()
	plain := uuid.New()
	f.seedUser(french, 1033)
	f.seedUser(plain, nil)
	f.seedSubscription("oss_incidentid", incident.Ref(), french)
	f.seedSubscription("oss_incidentid", incident.Ref(), plain)

	cfg := baseConfig()
	cfg.LocaleTemplates = map[string]string{
		"1033":                  "Bonjour {name}",
		config.DefaultLocaleKey: "Hi {name}",
	}

	res, err := f.dispatcher().Dispatch(context.Background(), cfg, &event.Event{
		Operation: "Update",
		ActorID:   uuid.New(),
		Record:    incident,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Created() != 2 {
		t.Fatalf("created %d notifications, want 2", res.Created())
	}

	texts := map[uuid.UUID]string{}
	for _, n := range notifications(t, f.store) {
		owner, _ := n.RefField(dispatch.FieldOwner)
		texts[owner.ID] = n.String(dispatch.FieldText)
	}
	if texts[french] != "Bonjour Widget" {
		t.Errorf("locale 1033 text = %q", texts[french])
	}
	if texts[plain] != "Hi Widget" {
		t.Errorf("default text = %q", texts[plain])
	}
}

func TestDispatch_SharedDefaultTemplate(t *testing.T) {
	f := newFixture(t)
	incident := record.New("incident", uuid.New()).Set("name", "Widget")

	withLocale := uuid.New()
	without := uuid.New()
	f.seedUser(withLocale, 1033)
	f.seedUser(without, nil)
	f.seedSubscription("oss_incidentid", incident.Ref(), withLocale)
	f.seedSubscription("oss_incidentid", incident.Ref(), without)

	cfg := baseConfig()
	cfg.LocaleTemplates = map[string]string{config.DefaultLocaleKey: "Hello {name}"}

	if _, err := f.dispatcher().Dispatch(context.Background(), cfg, &event.Event{
		Operation: "Update",
		ActorID:   uuid.New(),
		Record:    incident,
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	for _, n := range notifications(t, f.store) {
		if got := n.String(dispatch.FieldText); got != "Hello Widget" {
			t.Errorf("text = %q, want %q", got, "Hello Widget")
		}
	}
}

func TestDispatch_NoTemplatesMeansNoText(t *testing.T) {
	f := newFixture(t)
	incident := record.New("incident", uuid.New()).Set("description", "D")
	f.seedUser(f.userID, nil)
	f.seedSubscription("oss_incidentid", incident.Ref(), f.userID)

	res, err := f.dispatcher().Dispatch(context.Background(), baseConfig(), &event.Event{
		Operation: "Update",
		ActorID:   f.userID,
		Record:    incident,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Created() != 1 {
		t.Fatalf("created %d notifications, want 1", res.Created())
	}
	if notifications(t, f.store)[0].Has(dispatch.FieldText) {
		t.Error("notification should carry no text field")
	}
}

// failingRenderer always errors.
type failingRenderer struct{}

func (failingRenderer) Render(string, *record.Record) (string, error) {
	return "", errors.New("render exploded")
}

func TestDispatch_RenderFailureDegradesToNoText(t *testing.T) {
	f := newFixture(t)
	incident := record.New("incident", uuid.New()).Set("description", "D")
	f.seedUser(f.userID, nil)
	f.seedSubscription("oss_incidentid", incident.Ref(), f.userID)

	cfg := baseConfig()
	cfg.LocaleTemplates = map[string]string{config.DefaultLocaleKey: "Hello {description}"}

	disp := dispatch.New(f.store, condition.NewExprEvaluator(), failingRenderer{}, nil)
	res, err := disp.Dispatch(context.Background(), cfg, &event.Event{
		Operation: "Update",
		ActorID:   f.userID,
		Record:    incident,
	})
	if err != nil {
		t.Fatalf("render failure must not fail dispatch: %v", err)
	}
	if res.Created() != 1 {
		t.Fatalf("created %d notifications, want 1", res.Created())
	}
	if notifications(t, f.store)[0].Has(dispatch.FieldText) {
		t.Error("notification should carry no text after render failure")
	}
}

func TestDispatch_CapturedFieldsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	incident := record.New("incident", uuid.New()).
		Set("Description", "D").
		Set("Severity", float64(2)).
		Set("internal", "hidden")
	f.seedUser(f.userID, nil)
	f.seedSubscription("oss_incidentid", incident.Ref(), f.userID)

	cfg := baseConfig()
	cfg.CapturedFields = []string{"description", "SEVERITY"}

	if _, err := f.dispatcher().Dispatch(context.Background(), cfg, &event.Event{
		Operation: "Update",
		ActorID:   f.userID,
		Record:    incident,
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	p := decodePayload(t, notifications(t, f.store)[0])
	if !reflect.DeepEqual(p.UpdatedFields, []string{"Description", "Severity"}) {
		t.Errorf("updated fields = %v, want [Description Severity]", p.UpdatedFields)
	}
}

func TestDispatch_NilCapturedFieldsTakesAll(t *testing.T) {
	f := newFixture(t)
	incident := record.New("incident", uuid.New()).
		Set("a", 1).
		Set("b", 2)
	f.seedUser(f.userID, nil)
	f.seedSubscription("oss_incidentid", incident.Ref(), f.userID)

	cfg := baseConfig()
	cfg.CapturedFields = nil

	if _, err := f.dispatcher().Dispatch(context.Background(), cfg, &event.Event{
		Operation: "Update",
		ActorID:   f.userID,
		Record:    incident,
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	p := decodePayload(t, notifications(t, f.store)[0])
	if !reflect.DeepEqual(p.UpdatedFields, []string{"a", "b"}) {
		t.Errorf("updated fields = %v, want [a b]", p.UpdatedFields)
	}
}

func TestDispatch_DeleteWithBareReference(t *testing.T) {
	f := newFixture(t)
	ref := record.Reference{Entity: "incident", ID: uuid.New()}
	f.seedUser(f.userID, nil)
	f.seedSubscription("oss_incidentid", ref, f.userID)

	res, err := f.dispatcher().Dispatch(context.Background(), baseConfig(), &event.Event{
		Operation: "Delete",
		ActorID:   f.userID,
		RecordRef: &ref,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Created() != 1 {
		t.Fatalf("created %d notifications, want 1", res.Created())
	}

	n := notifications(t, f.store)[0]
	if kindVal, _ := n.Get(dispatch.FieldEventKind); kindVal != int(event.KindDelete) {
		t.Errorf("event kind = %v, want %d", kindVal, int(event.KindDelete))
	}
	p := decodePayload(t, n)
	if p.EventRecordReference != ref {
		t.Errorf("payload reference = %v, want %v", p.EventRecordReference, ref)
	}
	if len(p.UpdatedFields) != 0 {
		t.Errorf("updated fields = %v, want none", p.UpdatedFields)
	}
}

func TestDispatch_NeitherRecordNorReference(t *testing.T) {
	f := newFixture(t)
	res, err := f.dispatcher().Dispatch(context.Background(), baseConfig(), &event.Event{
		Operation: "Update",
		ActorID:   f.userID,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Aborted != dispatch.AbortNoRecord {
		t.Errorf("aborted = %q, want %q", res.Aborted, dispatch.AbortNoRecord)
	}
}

func TestDispatch_InactiveSubscriptionIgnored(t *testing.T) {
	f := newFixture(t)
	incident := record.New("incident", uuid.New()).Set("description", "D")
	f.seedUser(f.userID, nil)
	sub := record.New(dispatch.EntitySubscription, uuid.New()).
		Set("oss_incidentid", incident.Ref()).
		Set(dispatch.FieldState, 1). // deactivated
		Set(dispatch.FieldOwner, record.Reference{Entity: dispatch.EntityUser, ID: f.userID})
	f.store.Seed(sub)

	res, err := f.dispatcher().Dispatch(context.Background(), baseConfig(), &event.Event{
		Operation: "Update",
		ActorID:   f.userID,
		Record:    incident,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Created() != 0 {
		t.Errorf("created %d notifications, want 0", res.Created())
	}
}

// failAfterStore wraps a store and fails the (n+1)-th Create.
type failAfterStore struct {
	record.Store
	n     int
	calls int
}

func (s *failAfterStore) Create(ctx context.Context, entity string, fields map[string]any) (uuid.UUID, error) {
	s.calls++
	if s.calls > s.n {
		return uuid.Nil, errors.New("disk on fire")
	}
	return s.Store.Create(ctx, entity, fields)
}

func TestDispatch_StoreFailureIsFatalButKeepsEarlierWrites(t *testing.T) {
	f := newFixture(t)
	incident := record.New("incident", uuid.New()).Set("description", "D")
	for i := 0; i < 3; i++ {
		id := uuid.New()
		f.seedUser(id, nil)
		f.seedSubscription("oss_incidentid", incident.Ref(), id)
	}

	failing := &failAfterStore{Store: f.store, n: 2}
	disp := dispatch.New(failing, condition.NewExprEvaluator(), template.NewTokenRenderer(), nil)

	res, err := disp.Dispatch(context.Background(), baseConfig(), &event.Event{
		Operation: "Update",
		ActorID:   uuid.New(),
		Record:    incident,
	})
	if err == nil {
		t.Fatal("expected store failure to propagate")
	}
	if res.Created() != 2 {
		t.Errorf("result reports %d created before the failure, want 2", res.Created())
	}
	if got := len(notifications(t, f.store)); got != 2 {
		t.Errorf("store holds %d notifications, want the 2 created before the failure", got)
	}
}

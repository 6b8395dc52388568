package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/krs-api/internal/models"
)

// MemoryStore is an in-process UnitOfWork. Units of work are serialized by a
// single mutex. The first write of a unit copies the whole ledger, which costs
// O(rows); the copy replaces the live state only when fn succeeds. Read-only
// units use the live ledger without copying.
type MemoryStore struct {
	mu      sync.Mutex
	catalog *memoryCatalog
	ledger  *memoryLedger
}

// memoryCatalog holds reference data that units of work never modify.
type memoryCatalog struct {
	students    map[string]models.Student
	subjects    map[string]models.Subject
	schedules   map[string][]models.ScheduleEntry
	instructors map[string]map[string]struct{}
	programmes  map[string]map[string]struct{}
}

// memoryLedger holds the rows units of work mutate.
type memoryLedger struct {
	sections    map[string]models.Section
	enrollments map[string]models.Enrollment
	swaps       map[string]models.SwapRequest
	manualJoins map[string]models.ManualJoinRequest
	drops       map[string]models.DropRequest
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		catalog: &memoryCatalog{
			students:    make(map[string]models.Student),
			subjects:    make(map[string]models.Subject),
			schedules:   make(map[string][]models.ScheduleEntry),
			instructors: make(map[string]map[string]struct{}),
			programmes:  make(map[string]map[string]struct{}),
		},
		ledger: &memoryLedger{
			sections:    make(map[string]models.Section),
			enrollments: make(map[string]models.Enrollment),
			swaps:       make(map[string]models.SwapRequest),
			manualJoins: make(map[string]models.ManualJoinRequest),
			drops:       make(map[string]models.DropRequest),
		},
	}
}

func (l *memoryLedger) clone() *memoryLedger {
	return &memoryLedger{
		sections:    cloneMap(l.sections),
		enrollments: cloneMap(l.enrollments),
		swaps:       cloneMap(l.swaps),
		manualJoins: cloneMap(l.manualJoins),
		drops:       cloneMap(l.drops),
	}
}

func cloneMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// WithinTx implements UnitOfWork.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{catalog: s.catalog, ledger: s.ledger}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.dirty {
		s.ledger = tx.ledger
	}
	return nil
}

// AddStudent seeds a student.
func (s *MemoryStore) AddStudent(student models.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog.students[student.ID] = student
}

// AddSubject seeds a subject, optionally cross-listing it into extra programmes.
func (s *MemoryStore) AddSubject(subject models.Subject, crossListed ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog.subjects[subject.ID] = subject
	for _, programme := range crossListed {
		addToSet(s.catalog.programmes, subject.ID, programme)
	}
}

// AddSection seeds a section and its weekly meetings.
func (s *MemoryStore) AddSection(section models.Section, entries ...models.ScheduleEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.sections[section.ID] = section
	slots := make([]models.ScheduleEntry, 0, len(entries))
	for i, entry := range entries {
		if entry.ID == "" {
			entry.ID = fmt.Sprintf("%s-%d", section.ID, i+1)
		}
		entry.SectionID = section.ID
		slots = append(slots, entry)
	}
	s.catalog.schedules[section.ID] = slots
}

// AddInstructor assigns a user to teach a section.
func (s *MemoryStore) AddInstructor(sectionID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addToSet(s.catalog.instructors, sectionID, userID)
}

// AddEnrollment seeds an enrollment and takes its seat without capacity checks.
func (s *MemoryStore) AddEnrollment(enrollment models.Enrollment) models.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.Type == "" {
		enrollment.Type = models.EnrollmentTypeNormal
	}
	if enrollment.SubjectID == "" {
		enrollment.SubjectID = s.ledger.sections[enrollment.SectionID].SubjectID
	}
	now := time.Now().UTC()
	enrollment.CreatedAt, enrollment.UpdatedAt = now, now
	s.ledger.enrollments[enrollment.ID] = enrollment
	if section, ok := s.ledger.sections[enrollment.SectionID]; ok {
		section.EnrolledCount++
		s.ledger.sections[section.ID] = section
	}
	return enrollment
}

// Section returns the committed state of a section.
func (s *MemoryStore) Section(id string) (models.Section, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	section, ok := s.ledger.sections[id]
	return section, ok
}

// Enrollments returns the committed enrollments of a student.
func (s *MemoryStore) Enrollments(studentID string) []models.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.Enrollment, 0)
	for _, enrollment := range s.ledger.enrollments {
		if enrollment.StudentID == studentID {
			result = append(result, enrollment)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SectionID < result[j].SectionID })
	return result
}

// CountEnrollments returns how many committed enrollments reference a section.
func (s *MemoryStore) CountEnrollments(sectionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, enrollment := range s.ledger.enrollments {
		if enrollment.SectionID == sectionID {
			count++
		}
	}
	return count
}

// MemorySeed is the JSON document accepted by LoadSeed.
type MemorySeed struct {
	Students []models.Student `json:"students"`
	Subjects []struct {
		models.Subject
		CrossListed []string `json:"cross_listed"`
	} `json:"subjects"`
	Sections []struct {
		models.Section
		Schedule    []models.ScheduleEntry `json:"schedule"`
		Instructors []string               `json:"instructors"`
	} `json:"sections"`
}

// LoadSeed populates the store from a JSON seed document.
func (s *MemoryStore) LoadSeed(r io.Reader) error {
	var seed MemorySeed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode memory seed: %w", err)
	}
	for _, student := range seed.Students {
		s.AddStudent(student)
	}
	for _, subject := range seed.Subjects {
		s.AddSubject(subject.Subject, subject.CrossListed...)
	}
	for _, section := range seed.Sections {
		s.AddSection(section.Section, section.Schedule...)
		for _, userID := range section.Instructors {
			s.AddInstructor(section.ID, userID)
		}
	}
	return nil
}

func addToSet(sets map[string]map[string]struct{}, key, value string) {
	set, ok := sets[key]
	if !ok {
		set = make(map[string]struct{})
		sets[key] = set
	}
	set[value] = struct{}{}
}

func inSet(sets map[string]map[string]struct{}, key, value string) bool {
	_, ok := sets[key][value]
	return ok
}

type memTx struct {
	catalog *memoryCatalog
	ledger  *memoryLedger
	// dirty is set once ledger is a private copy owned by this unit.
	dirty bool
}

// writable returns the unit's own ledger, copying the shared one on first use.
func (t *memTx) writable() *memoryLedger {
	if !t.dirty {
		t.ledger = t.ledger.clone()
		t.dirty = true
	}
	return t.ledger
}

// Nested implements Tx. Writes made by fn land on a fresh copy that is
// dropped when fn fails.
func (t *memTx) Nested(ctx context.Context, fn func(tx Tx) error) error {
	snapshot, dirty := t.ledger, t.dirty
	t.dirty = false
	if err := fn(t); err != nil {
		t.ledger, t.dirty = snapshot, dirty
		return err
	}
	t.dirty = t.dirty || dirty
	return nil
}

func (t *memTx) FindStudent(ctx context.Context, id string) (*models.Student, error) {
	return t.LockStudent(ctx, id)
}

func (t *memTx) LockStudent(ctx context.Context, id string) (*models.Student, error) {
	student, ok := t.catalog.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &student, nil
}

func (t *memTx) FindSection(ctx context.Context, id string) (*models.SectionDetail, error) {
	section, ok := t.ledger.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	subject := t.catalog.subjects[section.SubjectID]
	return &models.SectionDetail{
		Section:          section,
		SubjectCode:      subject.Code,
		SubjectName:      subject.Name,
		SubjectSemester:  subject.Semester,
		SubjectProgramme: subject.Programme,
	}, nil
}

func (t *memTx) slotsOf(sectionID string, source models.SlotSource) []models.ScheduleSlot {
	section := t.ledger.sections[sectionID]
	code := t.catalog.subjects[section.SubjectID].Code
	entries := t.catalog.schedules[sectionID]
	slots := make([]models.ScheduleSlot, 0, len(entries))
	for _, entry := range entries {
		slots = append(slots, models.ScheduleSlot{
			ScheduleEntry: entry,
			SubjectCode:   code,
			SectionNumber: section.Number,
			Source:        source,
		})
	}
	return slots
}

func sortSlots(slots []models.ScheduleSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		di, dj := slots[i].DayOfWeek.Index(), slots[j].DayOfWeek.Index()
		if di != dj {
			return di < dj
		}
		return slots[i].StartTime < slots[j].StartTime
	})
}

func (t *memTx) ListSectionSlots(ctx context.Context, sectionID string) ([]models.ScheduleSlot, error) {
	slots := t.slotsOf(sectionID, "")
	sortSlots(slots)
	return slots, nil
}

func (t *memTx) IsCrossListed(ctx context.Context, subjectID, programme string) (bool, error) {
	return inSet(t.catalog.programmes, subjectID, programme), nil
}

func (t *memTx) IsSectionInstructor(ctx context.Context, sectionID, userID string) (bool, error) {
	return inSet(t.catalog.instructors, sectionID, userID), nil
}

func (t *memTx) IncrementEnrolled(ctx context.Context, sectionID string, allowOverCapacity bool) (bool, error) {
	section, ok := t.ledger.sections[sectionID]
	if !ok || (!allowOverCapacity && section.EnrolledCount >= section.Capacity) {
		return false, nil
	}
	section.EnrolledCount++
	section.UpdatedAt = time.Now().UTC()
	t.writable().sections[sectionID] = section
	return true, nil
}

func (t *memTx) DecrementEnrolled(ctx context.Context, sectionID string) (bool, error) {
	section, ok := t.ledger.sections[sectionID]
	if !ok || section.EnrolledCount <= 0 {
		return false, nil
	}
	section.EnrolledCount--
	section.UpdatedAt = time.Now().UTC()
	t.writable().sections[sectionID] = section
	return true, nil
}

func (t *memTx) LockEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, ok := t.ledger.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &enrollment, nil
}

func (t *memTx) LockEnrollmentBySection(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error) {
	for _, enrollment := range t.ledger.enrollments {
		if enrollment.StudentID == studentID && enrollment.SectionID == sectionID {
			found := enrollment
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (t *memTx) detail(enrollment models.Enrollment) models.EnrollmentDetail {
	section := t.ledger.sections[enrollment.SectionID]
	return models.EnrollmentDetail{
		Enrollment:    enrollment,
		SubjectCode:   t.catalog.subjects[enrollment.SubjectID].Code,
		SectionNumber: section.Number,
	}
}

func (t *memTx) FindEnrollmentBySubject(ctx context.Context, studentID, subjectID string) (*models.EnrollmentDetail, error) {
	for _, enrollment := range t.ledger.enrollments {
		if enrollment.StudentID == studentID && enrollment.SubjectID == subjectID {
			detail := t.detail(enrollment)
			return &detail, nil
		}
	}
	return nil, nil
}

func (t *memTx) ListStudentEnrollments(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	result := make([]models.EnrollmentDetail, 0)
	for _, enrollment := range t.ledger.enrollments {
		if enrollment.StudentID == studentID {
			result = append(result, t.detail(enrollment))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SubjectCode < result[j].SubjectCode })
	return result, nil
}

func (t *memTx) ListStudentSchedule(ctx context.Context, studentID string) ([]models.ScheduleSlot, error) {
	slots := make([]models.ScheduleSlot, 0)
	for _, enrollment := range t.ledger.enrollments {
		if enrollment.StudentID == studentID {
			slots = append(slots, t.slotsOf(enrollment.SectionID, models.SlotEnrolled)...)
		}
	}
	sortSlots(slots)
	return slots, nil
}

func (t *memTx) ListTeachingSchedule(ctx context.Context, userID string) ([]models.ScheduleSlot, error) {
	slots := make([]models.ScheduleSlot, 0)
	if userID == "" {
		return slots, nil
	}
	for sectionID, users := range t.catalog.instructors {
		if _, ok := users[userID]; !ok {
			continue
		}
		if section, ok := t.ledger.sections[sectionID]; !ok || !section.Active {
			continue
		}
		slots = append(slots, t.slotsOf(sectionID, models.SlotTeaching)...)
	}
	sortSlots(slots)
	return slots, nil
}

func (t *memTx) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	for _, existing := range t.ledger.enrollments {
		if existing.StudentID == enrollment.StudentID && existing.SubjectID == enrollment.SubjectID {
			return fmt.Errorf("create enrollment: duplicate student subject pair")
		}
	}
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	if enrollment.Type == "" {
		enrollment.Type = models.EnrollmentTypeNormal
	}
	t.writable().enrollments[enrollment.ID] = *enrollment
	return nil
}

func (t *memTx) DeleteEnrollment(ctx context.Context, id string) error {
	if _, ok := t.ledger.enrollments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(t.writable().enrollments, id)
	return nil
}

func (t *memTx) ReassignEnrollment(ctx context.Context, id, sectionID string, enrollmentType models.EnrollmentType) error {
	enrollment, ok := t.ledger.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	enrollment.SectionID = sectionID
	enrollment.Type = enrollmentType
	enrollment.UpdatedAt = time.Now().UTC()
	t.writable().enrollments[id] = enrollment
	return nil
}

func (t *memTx) CreateSwapRequest(ctx context.Context, req *models.SwapRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	t.writable().swaps[req.ID] = *req
	return nil
}

func (t *memTx) LockSwapRequest(ctx context.Context, id string) (*models.SwapRequest, error) {
	req, ok := t.ledger.swaps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &req, nil
}

func (t *memTx) ExistsPendingSwapBetween(ctx context.Context, studentA, studentB string) (bool, error) {
	for _, req := range t.ledger.swaps {
		if req.Status != models.RequestStatusPending {
			continue
		}
		if (req.RequesterID == studentA && req.TargetID == studentB) || (req.RequesterID == studentB && req.TargetID == studentA) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) ResolveSwapRequest(ctx context.Context, id string, status models.RequestStatus, reason *string, at time.Time) error {
	req, ok := t.ledger.swaps[id]
	if !ok || req.Status != models.RequestStatusPending {
		return sql.ErrNoRows
	}
	req.Status = status
	req.ResponseReason = reason
	req.RespondedAt = &at
	t.writable().swaps[id] = req
	return nil
}

func (t *memTx) ListSwapRequests(ctx context.Context, filter models.RequestFilter) ([]models.SwapRequest, error) {
	result := make([]models.SwapRequest, 0)
	for _, req := range t.ledger.swaps {
		if filter.StudentID != "" && !req.Involves(filter.StudentID) {
			continue
		}
		if filter.SectionID != "" && req.RequesterSectionID != filter.SectionID && req.TargetSectionID != filter.SectionID {
			continue
		}
		if filter.InstructorID != "" &&
			!inSet(t.catalog.instructors, req.RequesterSectionID, filter.InstructorID) &&
			!inSet(t.catalog.instructors, req.TargetSectionID, filter.InstructorID) {
			continue
		}
		if !statusMatches(filter.Status, req.Status) {
			continue
		}
		result = append(result, req)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return paginate(result, filter), nil
}

func (t *memTx) CreateManualJoinRequest(ctx context.Context, req *models.ManualJoinRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	t.writable().manualJoins[req.ID] = *req
	return nil
}

func (t *memTx) LockManualJoinRequest(ctx context.Context, id string) (*models.ManualJoinRequest, error) {
	req, ok := t.ledger.manualJoins[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &req, nil
}

func (t *memTx) ExistsPendingManualJoin(ctx context.Context, studentID, sectionID string) (bool, error) {
	for _, req := range t.ledger.manualJoins {
		if req.Status == models.RequestStatusPending && req.StudentID == studentID && req.SectionID == sectionID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) ReviewManualJoinRequest(ctx context.Context, id string, review models.Review) error {
	req, ok := t.ledger.manualJoins[id]
	if !ok || req.Status != models.RequestStatusPending {
		return sql.ErrNoRows
	}
	req.Status = review.Status
	req.ReviewedBy = &review.ReviewedBy
	req.ReviewerRole = &review.Role
	req.ReviewNote = review.Note
	req.ReviewedAt = &review.ReviewedAt
	t.writable().manualJoins[id] = req
	return nil
}

func (t *memTx) ListManualJoinRequests(ctx context.Context, filter models.RequestFilter) ([]models.ManualJoinRequest, error) {
	result := make([]models.ManualJoinRequest, 0)
	for _, req := range t.ledger.manualJoins {
		if !t.requestMatches(filter, req.StudentID, req.SectionID, req.Status) {
			continue
		}
		result = append(result, req)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return paginate(result, filter), nil
}

func (t *memTx) CreateDropRequest(ctx context.Context, req *models.DropRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	t.writable().drops[req.ID] = *req
	return nil
}

func (t *memTx) LockDropRequest(ctx context.Context, id string) (*models.DropRequest, error) {
	req, ok := t.ledger.drops[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &req, nil
}

func (t *memTx) ExistsPendingDrop(ctx context.Context, enrollmentID string) (bool, error) {
	for _, req := range t.ledger.drops {
		if req.Status == models.RequestStatusPending && req.EnrollmentID == enrollmentID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) ReviewDropRequest(ctx context.Context, id string, review models.Review) error {
	req, ok := t.ledger.drops[id]
	if !ok || req.Status != models.RequestStatusPending {
		return sql.ErrNoRows
	}
	req.Status = review.Status
	req.ReviewedBy = &review.ReviewedBy
	req.ReviewerRole = &review.Role
	req.ReviewNote = review.Note
	req.ReviewedAt = &review.ReviewedAt
	t.writable().drops[id] = req
	return nil
}

func (t *memTx) MoveDropRequest(ctx context.Context, id, sectionID string) error {
	req, ok := t.ledger.drops[id]
	if !ok || req.Status != models.RequestStatusPending {
		return sql.ErrNoRows
	}
	req.SectionID = sectionID
	t.writable().drops[id] = req
	return nil
}

func (t *memTx) ListDropRequests(ctx context.Context, filter models.RequestFilter) ([]models.DropRequest, error) {
	result := make([]models.DropRequest, 0)
	for _, req := range t.ledger.drops {
		if !t.requestMatches(filter, req.StudentID, req.SectionID, req.Status) {
			continue
		}
		result = append(result, req)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return paginate(result, filter), nil
}

func (t *memTx) requestMatches(filter models.RequestFilter, studentID, sectionID string, status models.RequestStatus) bool {
	if filter.StudentID != "" && filter.StudentID != studentID {
		return false
	}
	if filter.SectionID != "" && filter.SectionID != sectionID {
		return false
	}
	if filter.InstructorID != "" && !inSet(t.catalog.instructors, sectionID, filter.InstructorID) {
		return false
	}
	return statusMatches(filter.Status, status)
}

func statusMatches(allowed []models.RequestStatus, status models.RequestStatus) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == status {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, filter models.RequestFilter) []T {
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + NormalizeLimit(filter.Limit)
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

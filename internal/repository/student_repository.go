package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-api/internal/models"
)

// StudentRepository reads students.
type StudentRepository struct {
	q sqlx.ExtContext
}

// NewStudentRepository constructs the repository over a DB or transaction.
func NewStudentRepository(q sqlx.ExtContext) *StudentRepository {
	return &StudentRepository{q: q}
}

const studentColumns = `id, user_id, student_number, full_name, semester, programme, active, created_at, updated_at`

// FindStudent loads a student without locking it.
func (r *StudentRepository) FindStudent(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	var student models.Student
	if err := sqlx.GetContext(ctx, r.q, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// LockStudent loads a student and holds its row lock for the rest of the
// transaction, serializing concurrent operations by the same student.
func (r *StudentRepository) LockStudent(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT ` + studentColumns + ` FROM students WHERE id = $1 FOR UPDATE`
	var student models.Student
	if err := sqlx.GetContext(ctx, r.q, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

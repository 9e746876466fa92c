package repository

import (
	"context"
	"errors"
	"fmt"

	"civicvoice-backend/apperrors"
	"civicvoice-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PetitionRepository handles database operations for petitions, their
// attachments and signatures. Multi-row writes run in a single transaction
// so a failed step leaves no partial state behind.
type PetitionRepository struct {
	db *pgxpool.Pool
}

// NewPetitionRepository creates a new petition repository
func NewPetitionRepository(db *pgxpool.Pool) *PetitionRepository {
	return &PetitionRepository{db: db}
}

const petitionColumns = `
	p.id, p.title, p.description, p.recipient, p.state, p.signer_count,
	p.category_id, p.author_id, p.created_at, p.updated_at,
	u.id, u.name, u.email, u.role, u.created_at, u.updated_at,
	c.id, c.name`

const petitionJoins = `
	FROM petitions p
	JOIN users u ON u.id = p.author_id
	JOIN categories c ON c.id = p.category_id`

func scanPetition(row pgx.Row) (*models.Petition, error) {
	p := &models.Petition{
		Author:      &models.User{},
		Category:    &models.Category{},
		Attachments: []*models.Attachment{},
	}
	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.Recipient, &p.State, &p.SignerCount,
		&p.CategoryID, &p.AuthorID, &p.CreatedAt, &p.UpdatedAt,
		&p.Author.ID, &p.Author.Name, &p.Author.Email, &p.Author.Role,
		&p.Author.CreatedAt, &p.Author.UpdatedAt,
		&p.Category.ID, &p.Category.Name,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create inserts a petition row and, when att is non-nil, its attachment
// row in one transaction. A missing category surfaces as a validation error.
func (r *PetitionRepository) Create(ctx context.Context, petition *models.Petition, att *models.Attachment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create petition: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO petitions (title, description, recipient, state, signer_count, category_id, author_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRow(
		ctx, query,
		petition.Title,
		petition.Description,
		petition.Recipient,
		petition.State,
		petition.SignerCount,
		petition.CategoryID,
		petition.AuthorID,
	).Scan(&petition.ID, &petition.CreatedAt, &petition.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.Validation(map[string]string{"category_id": "category does not exist"})
		}
		return fmt.Errorf("insert petition: %w", err)
	}

	if att != nil {
		att.PetitionID = petition.ID
		if err := insertAttachment(ctx, tx, att); err != nil {
			return err
		}
		petition.Attachments = append(petition.Attachments, att)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create petition: %w", err)
	}
	return nil
}

func insertAttachment(ctx context.Context, tx pgx.Tx, att *models.Attachment) error {
	query := `
		INSERT INTO attachments (id, petition_id, original_name, storage_key, mime_type, size)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := tx.QueryRow(
		ctx, query,
		att.ID,
		att.PetitionID,
		att.OriginalName,
		att.StorageKey,
		att.MimeType,
		att.Size,
	).Scan(&att.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// GetByID retrieves a petition with its author, category and attachments
// eagerly loaded.
func (r *PetitionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Petition, error) {
	query := `SELECT` + petitionColumns + petitionJoins + ` WHERE p.id = $1`

	petition, err := scanPetition(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("petition not found")
		}
		return nil, fmt.Errorf("get petition: %w", err)
	}

	if err := r.loadAttachments(ctx, []*models.Petition{petition}); err != nil {
		return nil, err
	}
	return petition, nil
}

// List retrieves all petitions with eager-loaded relations, newest first.
func (r *PetitionRepository) List(ctx context.Context) ([]*models.Petition, error) {
	query := `SELECT` + petitionColumns + petitionJoins + ` ORDER BY p.created_at DESC`
	return r.list(ctx, query)
}

// ListByAuthor retrieves all petitions created by authorID, newest first.
func (r *PetitionRepository) ListByAuthor(ctx context.Context, authorID uuid.UUID) ([]*models.Petition, error) {
	query := `SELECT` + petitionColumns + petitionJoins + ` WHERE p.author_id = $1 ORDER BY p.created_at DESC`
	return r.list(ctx, query, authorID)
}

func (r *PetitionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Petition, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list petitions: %w", err)
	}
	defer rows.Close()

	var petitions []*models.Petition
	for rows.Next() {
		petition, err := scanPetition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan petition: %w", err)
		}
		petitions = append(petitions, petition)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadAttachments(ctx, petitions); err != nil {
		return nil, err
	}
	return petitions, nil
}

func (r *PetitionRepository) loadAttachments(ctx context.Context, petitions []*models.Petition) error {
	if len(petitions) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*models.Petition, len(petitions))
	ids := make([]uuid.UUID, 0, len(petitions))
	for _, p := range petitions {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	query := `
		SELECT id, petition_id, original_name, storage_key, mime_type, size, created_at
		FROM attachments
		WHERE petition_id = ANY($1)
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		att := &models.Attachment{}
		err := rows.Scan(&att.ID, &att.PetitionID, &att.OriginalName, &att.StorageKey, &att.MimeType, &att.Size, &att.CreatedAt)
		if err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		if p, ok := byID[att.PetitionID]; ok {
			p.Attachments = append(p.Attachments, att)
		}
	}
	return rows.Err()
}

// GetAttachment retrieves a single attachment by id.
func (r *PetitionRepository) GetAttachment(ctx context.Context, id uuid.UUID) (*models.Attachment, error) {
	att := &models.Attachment{}
	query := `
		SELECT id, petition_id, original_name, storage_key, mime_type, size, created_at
		FROM attachments
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&att.ID, &att.PetitionID, &att.OriginalName, &att.StorageKey, &att.MimeType, &att.Size, &att.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("attachment not found")
		}
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return att, nil
}

// UpdateFields performs a partial update of the text/category fields only.
// Signatures and signer counts are never touched here.
func (r *PetitionRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields models.PetitionFields) error {
	query := `
		UPDATE petitions SET
			title = $2,
			description = $3,
			recipient = $4,
			category_id = $5,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, fields.Title, fields.Description, fields.Recipient, fields.CategoryID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.Validation(map[string]string{"category_id": "category does not exist"})
		}
		return fmt.Errorf("update petition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("petition not found")
	}
	return nil
}

// ReplaceAttachment swaps a petition's attachment rows for att in one
// transaction and returns the storage keys of the replaced rows so the
// caller can clean up blobs after commit.
func (r *PetitionRepository) ReplaceAttachment(ctx context.Context, petitionID uuid.UUID, att *models.Attachment) ([]string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin replace attachment: %w", err)
	}
	defer tx.Rollback(ctx)

	// Locking the petition row serializes concurrent replaces.
	var exists uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM petitions WHERE id = $1 FOR UPDATE`, petitionID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("petition not found")
		}
		return nil, fmt.Errorf("lock petition: %w", err)
	}

	oldKeys, err := attachmentKeys(ctx, tx, petitionID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM attachments WHERE petition_id = $1`, petitionID); err != nil {
		return nil, fmt.Errorf("delete old attachments: %w", err)
	}

	att.PetitionID = petitionID
	if err := insertAttachment(ctx, tx, att); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit replace attachment: %w", err)
	}
	return oldKeys, nil
}

// Delete removes a petition in one transaction; attachment and signature
// rows go with it via ON DELETE CASCADE. Returns the storage keys of the
// petition's attachments for post-commit blob cleanup.
func (r *PetitionRepository) Delete(ctx context.Context, id uuid.UUID) ([]string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin delete petition: %w", err)
	}
	defer tx.Rollback(ctx)

	keys, err := attachmentKeys(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM petitions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("delete petition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperrors.NotFound("petition not found")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit delete petition: %w", err)
	}
	return keys, nil
}

func attachmentKeys(ctx context.Context, tx pgx.Tx, petitionID uuid.UUID) ([]string, error) {
	rows, err := tx.Query(ctx, `SELECT storage_key FROM attachments WHERE petition_id = $1`, petitionID)
	if err != nil {
		return nil, fmt.Errorf("collect attachment keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan attachment key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// AddSignature inserts the (user, petition) signature row and increments the
// petition's signer count in one transaction. The unique constraint on
// signatures is the source of truth for at-most-once signing: a duplicate
// insert aborts the transaction before the counter moves, so concurrent
// attempts by the same user yield exactly one success.
func (r *PetitionRepository) AddSignature(ctx context.Context, petitionID, userID uuid.UUID) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin add signature: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO signatures (user_id, petition_id) VALUES ($1, $2)`, userID, petitionID)
	if err != nil {
		return 0, signatureInsertError(err)
	}

	var count int
	err = tx.QueryRow(ctx, `
		UPDATE petitions SET signer_count = signer_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING signer_count`, petitionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment signer count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit add signature: %w", err)
	}
	return count, nil
}

// SetState updates a petition's lifecycle state.
func (r *PetitionRepository) SetState(ctx context.Context, id uuid.UUID, state models.PetitionState) error {
	tag, err := r.db.Exec(ctx, `UPDATE petitions SET state = $2, updated_at = NOW() WHERE id = $1`, id, state)
	if err != nil {
		return fmt.Errorf("set petition state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("petition not found")
	}
	return nil
}

// signatureInsertError maps constraint violations on the signatures table to
// domain errors. The primary key means the pair already signed; the two
// foreign keys tell a missing petition apart from a deleted account.
func signatureInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperrors.AlreadySigned()
		case pgForeignKeyViolation:
			if pgErr.ConstraintName == "signatures_user_id_fkey" {
				return apperrors.Unauthorized("account no longer exists")
			}
			return apperrors.NotFound("petition not found")
		}
	}
	return fmt.Errorf("insert signature: %w", err)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

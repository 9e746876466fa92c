package service

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"civicvoice-backend/apperrors"
	"civicvoice-backend/models"

	"github.com/google/uuid"
)

// PetitionStore is the persistence contract the service orchestrates.
// Implemented by repository.PetitionRepository.
type PetitionStore interface {
	Create(ctx context.Context, petition *models.Petition, att *models.Attachment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Petition, error)
	List(ctx context.Context) ([]*models.Petition, error)
	ListByAuthor(ctx context.Context, authorID uuid.UUID) ([]*models.Petition, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields models.PetitionFields) error
	ReplaceAttachment(ctx context.Context, petitionID uuid.UUID, att *models.Attachment) ([]string, error)
	Delete(ctx context.Context, id uuid.UUID) ([]string, error)
	AddSignature(ctx context.Context, petitionID, userID uuid.UUID) (int, error)
	SetState(ctx context.Context, id uuid.UUID, state models.PetitionState) error
}

// CategoryStore answers category existence checks during validation.
type CategoryStore interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// BlobStore is the subset of the storage backend the service needs.
type BlobStore interface {
	Upload(ctx context.Context, attachmentID uuid.UUID, filename string, data io.Reader) (string, error)
	Delete(ctx context.Context, storageKey string) error
}

// PetitionService enforces business rules atop store + policy + blob store
type PetitionService struct {
	petitions  PetitionStore
	categories CategoryStore
	blobs      BlobStore

	maxUploadBytes int64
}

// PetitionServiceOption is a functional option for PetitionService
type PetitionServiceOption func(*PetitionService)

// WithPetitionStore sets the petition store
func WithPetitionStore(store PetitionStore) PetitionServiceOption {
	return func(s *PetitionService) {
		s.petitions = store
	}
}

// WithCategoryStore sets the category store
func WithCategoryStore(store CategoryStore) PetitionServiceOption {
	return func(s *PetitionService) {
		s.categories = store
	}
}

// WithBlobStore sets the blob store
func WithBlobStore(blobs BlobStore) PetitionServiceOption {
	return func(s *PetitionService) {
		s.blobs = blobs
	}
}

// WithMaxUploadBytes sets the upload size ceiling
func WithMaxUploadBytes(n int64) PetitionServiceOption {
	return func(s *PetitionService) {
		s.maxUploadBytes = n
	}
}

// NewPetitionService creates a new petition service
func NewPetitionService(opts ...PetitionServiceOption) *PetitionService {
	s := &PetitionService{
		maxUploadBytes: 4 * 1024 * 1024,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FileUpload carries an incoming attachment through validation and storage.
type FileUpload struct {
	OriginalName string
	MimeType     string
	Size         int64
	Data         io.Reader
}

var allowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

func (s *PetitionService) validateFields(ctx context.Context, fields models.PetitionFields) error {
	problems := map[string]string{}
	if strings.TrimSpace(fields.Title) == "" {
		problems["title"] = "title is required"
	} else if len(fields.Title) > 255 {
		problems["title"] = "title must be at most 255 characters"
	}
	if strings.TrimSpace(fields.Description) == "" {
		problems["description"] = "description is required"
	}
	if strings.TrimSpace(fields.Recipient) == "" {
		problems["recipient"] = "recipient is required"
	}
	if fields.CategoryID == uuid.Nil {
		problems["category_id"] = "category is required"
	} else {
		exists, err := s.categories.Exists(ctx, fields.CategoryID)
		if err != nil {
			return apperrors.Internal(err)
		}
		if !exists {
			problems["category_id"] = "category does not exist"
		}
	}
	if len(problems) > 0 {
		return apperrors.Validation(problems)
	}
	return nil
}

func (s *PetitionService) validateFile(file *FileUpload) error {
	if !allowedMimeTypes[file.MimeType] {
		return apperrors.Validation(map[string]string{"file": "file type not allowed; allowed types: jpg, jpeg, png, pdf"})
	}
	if file.Size > s.maxUploadBytes {
		return apperrors.Validation(map[string]string{"file": "file exceeds the maximum allowed size"})
	}
	return nil
}

// uploadAttachment validates and stores the blob and returns the attachment
// row to persist. The blob is written before any database row so a storage
// failure leaves nothing to roll back.
func (s *PetitionService) uploadAttachment(ctx context.Context, file *FileUpload) (*models.Attachment, error) {
	if err := s.validateFile(file); err != nil {
		return nil, err
	}

	att := &models.Attachment{
		ID:           uuid.New(),
		OriginalName: file.OriginalName,
		MimeType:     file.MimeType,
		Size:         file.Size,
	}

	key, err := s.blobs.Upload(ctx, att.ID, file.OriginalName, file.Data)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	att.StorageKey = key
	return att, nil
}

// discardBlob is the compensation step when a database write fails after the
// blob was already stored. Best-effort: a leaked blob is logged, not fatal.
func (s *PetitionService) discardBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		log.Printf("Warning: failed to delete orphaned blob %s: %v", key, err)
	}
}

// CreatePetitionRequest represents a request to create a petition
type CreatePetitionRequest struct {
	ActorID uuid.UUID
	Fields  models.PetitionFields
	File    *FileUpload
}

// CreatePetition validates the request and creates the petition, with its
// attachment when a file is supplied, as one atomic unit.
func (s *PetitionService) CreatePetition(ctx context.Context, req CreatePetitionRequest) (*models.Petition, error) {
	if err := s.validateFields(ctx, req.Fields); err != nil {
		return nil, err
	}

	var att *models.Attachment
	if req.File != nil {
		uploaded, err := s.uploadAttachment(ctx, req.File)
		if err != nil {
			return nil, err
		}
		att = uploaded
	}

	petition := &models.Petition{
		Title:       req.Fields.Title,
		Description: req.Fields.Description,
		Recipient:   req.Fields.Recipient,
		CategoryID:  req.Fields.CategoryID,
		AuthorID:    req.ActorID,
		State:       models.StatePending,
		SignerCount: 0,
		Attachments: []*models.Attachment{},
	}

	if err := s.petitions.Create(ctx, petition, att); err != nil {
		if att != nil {
			s.discardBlob(ctx, att.StorageKey)
		}
		return nil, wrapStoreErr(err)
	}

	created, err := s.petitions.GetByID(ctx, petition.ID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return created, nil
}

// UpdatePetitionRequest represents a request to update a petition
type UpdatePetitionRequest struct {
	ActorID    uuid.UUID
	PetitionID uuid.UUID
	Fields     models.PetitionFields
	File       *FileUpload
}

// UpdatePetition applies an owner-only update of the text fields and, when a
// file is supplied, destructively replaces the petition's attachment.
func (s *PetitionService) UpdatePetition(ctx context.Context, req UpdatePetitionRequest) (*models.Petition, error) {
	petition, err := s.petitions.GetByID(ctx, req.PetitionID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if !CanModify(req.ActorID, petition) {
		return nil, apperrors.Forbidden("not allowed to edit this petition")
	}

	if err := s.validateFields(ctx, req.Fields); err != nil {
		return nil, err
	}

	// The file is validated and staged before any row write; a rejected
	// upload leaves the stored fields untouched.
	var att *models.Attachment
	if req.File != nil {
		att, err = s.uploadAttachment(ctx, req.File)
		if err != nil {
			return nil, err
		}
	}

	if err := s.petitions.UpdateFields(ctx, req.PetitionID, req.Fields); err != nil {
		if att != nil {
			s.discardBlob(ctx, att.StorageKey)
		}
		return nil, wrapStoreErr(err)
	}

	if att != nil {
		oldKeys, err := s.petitions.ReplaceAttachment(ctx, req.PetitionID, att)
		if err != nil {
			s.discardBlob(ctx, att.StorageKey)
			return nil, wrapStoreErr(err)
		}
		for _, key := range oldKeys {
			s.discardBlob(ctx, key)
		}
	}

	updated, err := s.petitions.GetByID(ctx, req.PetitionID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return updated, nil
}

// DeletePetitionRequest represents a request to delete a petition
type DeletePetitionRequest struct {
	ActorID    uuid.UUID
	PetitionID uuid.UUID
}

// DeletePetition removes a petition with its attachments and signatures.
// Blob deletions happen after the transaction commits; their failure is
// logged but does not fail the request, the rows being already gone.
func (s *PetitionService) DeletePetition(ctx context.Context, req DeletePetitionRequest) error {
	petition, err := s.petitions.GetByID(ctx, req.PetitionID)
	if err != nil {
		return wrapStoreErr(err)
	}
	if !CanModify(req.ActorID, petition) {
		return apperrors.Forbidden("not allowed to delete this petition")
	}

	keys, err := s.petitions.Delete(ctx, req.PetitionID)
	if err != nil {
		return wrapStoreErr(err)
	}
	for _, key := range keys {
		s.discardBlob(ctx, key)
	}
	return nil
}

// SignPetitionRequest represents a request to sign a petition
type SignPetitionRequest struct {
	ActorID    uuid.UUID
	PetitionID uuid.UUID
}

// SignPetition records the actor's signature. The store enforces
// at-most-one signature per (user, petition); a duplicate surfaces as a
// forbidden outcome.
func (s *PetitionService) SignPetition(ctx context.Context, req SignPetitionRequest) (*models.Petition, error) {
	petition, err := s.petitions.GetByID(ctx, req.PetitionID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	count, err := s.petitions.AddSignature(ctx, req.PetitionID, req.ActorID)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindAlreadySigned {
			return nil, apperrors.Forbidden("already signed")
		}
		return nil, wrapStoreErr(err)
	}

	petition.SignerCount = count
	return petition, nil
}

// ChangeStateRequest represents a request to change a petition's state
type ChangeStateRequest struct {
	ActorRole  models.Role
	PetitionID uuid.UUID
	NewState   models.PetitionState
}

// ChangeState moves a petition to the accepted state. Admin-only.
func (s *PetitionService) ChangeState(ctx context.Context, req ChangeStateRequest) (*models.Petition, error) {
	if !CanAccept(req.ActorRole) {
		return nil, apperrors.Forbidden("not allowed to change petition state")
	}
	if req.NewState != models.StateAccepted {
		return nil, apperrors.ValidationMsg("invalid state transition")
	}

	petition, err := s.petitions.GetByID(ctx, req.PetitionID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	if err := s.petitions.SetState(ctx, req.PetitionID, req.NewState); err != nil {
		return nil, wrapStoreErr(err)
	}
	petition.State = req.NewState
	return petition, nil
}

// List returns all petitions with eager-loaded relations
func (s *PetitionService) List(ctx context.Context) ([]*models.Petition, error) {
	petitions, err := s.petitions.List(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return petitions, nil
}

// ListMine returns the petitions authored by the acting user
func (s *PetitionService) ListMine(ctx context.Context, actorID uuid.UUID) ([]*models.Petition, error) {
	petitions, err := s.petitions.ListByAuthor(ctx, actorID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return petitions, nil
}

// GetPetition returns one petition by id
func (s *PetitionService) GetPetition(ctx context.Context, id uuid.UUID) (*models.Petition, error) {
	petition, err := s.petitions.GetByID(ctx, id)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return petition, nil
}

// wrapStoreErr passes typed domain errors through and hides anything else
// behind a generic internal error.
func wrapStoreErr(err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Internal(err)
}

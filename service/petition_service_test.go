package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"civicvoice-backend/apperrors"
	"civicvoice-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePetitionStore is an in-memory PetitionStore for service tests. The
// mutex makes it safe for the concurrent signing tests, mirroring the
// serialization the real store gets from its transactions.
type fakePetitionStore struct {
	mu          sync.Mutex
	petitions   map[uuid.UUID]*models.Petition
	attachments map[uuid.UUID][]*models.Attachment
	signatures  map[string]bool

	createErr  error
	getErr     error
	replaceErr error
}

func newFakePetitionStore() *fakePetitionStore {
	return &fakePetitionStore{
		petitions:   make(map[uuid.UUID]*models.Petition),
		attachments: make(map[uuid.UUID][]*models.Attachment),
		signatures:  make(map[string]bool),
	}
}

func sigKey(userID, petitionID uuid.UUID) string {
	return userID.String() + "|" + petitionID.String()
}

func (f *fakePetitionStore) Create(ctx context.Context, p *models.Petition, att *models.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	p.ID = uuid.New()
	f.petitions[p.ID] = p
	if att != nil {
		att.PetitionID = p.ID
		f.attachments[p.ID] = []*models.Attachment{att}
	}
	return nil
}

func (f *fakePetitionStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Petition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.petitions[id]
	if !ok {
		return nil, apperrors.NotFound("petition not found")
	}
	// Fresh struct per call, like a row scan
	cp := *p
	cp.Attachments = f.attachments[id]
	return &cp, nil
}

func (f *fakePetitionStore) List(ctx context.Context) ([]*models.Petition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Petition
	for _, p := range f.petitions {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePetitionStore) ListByAuthor(ctx context.Context, authorID uuid.UUID) ([]*models.Petition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Petition
	for _, p := range f.petitions {
		if p.AuthorID == authorID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePetitionStore) UpdateFields(ctx context.Context, id uuid.UUID, fields models.PetitionFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.petitions[id]
	if !ok {
		return apperrors.NotFound("petition not found")
	}
	p.Title = fields.Title
	p.Description = fields.Description
	p.Recipient = fields.Recipient
	p.CategoryID = fields.CategoryID
	return nil
}

func (f *fakePetitionStore) ReplaceAttachment(ctx context.Context, petitionID uuid.UUID, att *models.Attachment) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}
	if _, ok := f.petitions[petitionID]; !ok {
		return nil, apperrors.NotFound("petition not found")
	}
	var oldKeys []string
	for _, old := range f.attachments[petitionID] {
		oldKeys = append(oldKeys, old.StorageKey)
	}
	att.PetitionID = petitionID
	f.attachments[petitionID] = []*models.Attachment{att}
	return oldKeys, nil
}

func (f *fakePetitionStore) Delete(ctx context.Context, id uuid.UUID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.petitions[id]; !ok {
		return nil, apperrors.NotFound("petition not found")
	}
	var keys []string
	for _, att := range f.attachments[id] {
		keys = append(keys, att.StorageKey)
	}
	delete(f.petitions, id)
	delete(f.attachments, id)
	for key := range f.signatures {
		if len(key) > 37 && key[37:] == id.String() {
			delete(f.signatures, key)
		}
	}
	return keys, nil
}

func (f *fakePetitionStore) AddSignature(ctx context.Context, petitionID, userID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.petitions[petitionID]
	if !ok {
		return 0, apperrors.NotFound("petition not found")
	}
	key := sigKey(userID, petitionID)
	if f.signatures[key] {
		return 0, apperrors.AlreadySigned()
	}
	f.signatures[key] = true
	p.SignerCount++
	return p.SignerCount, nil
}

func (f *fakePetitionStore) SetState(ctx context.Context, id uuid.UUID, state models.PetitionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.petitions[id]
	if !ok {
		return apperrors.NotFound("petition not found")
	}
	p.State = state
	return nil
}

func (f *fakePetitionStore) signatureCount(petitionID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key := range f.signatures {
		if key[37:] == petitionID.String() {
			n++
		}
	}
	return n
}

type fakeCategoryStore struct {
	valid map[uuid.UUID]bool
}

func (f *fakeCategoryStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return f.valid[id], nil
}

// fakeBlobStore keeps blobs in memory and can be told to fail uploads.
type fakeBlobStore struct {
	blobs      map[string][]byte
	failUpload bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (f *fakeBlobStore) Upload(ctx context.Context, attachmentID uuid.UUID, filename string, data io.Reader) (string, error) {
	if f.failUpload {
		return "", errors.New("blob store unavailable")
	}
	contents, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("peticiones/%s_%s", attachmentID, filename)
	f.blobs[key] = contents
	return key, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, storageKey string) error {
	delete(f.blobs, storageKey)
	return nil
}

type serviceFixture struct {
	svc        *PetitionService
	store      *fakePetitionStore
	blobs      *fakeBlobStore
	categoryID uuid.UUID
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	store := newFakePetitionStore()
	blobs := newFakeBlobStore()
	categoryID := uuid.New()

	svc := NewPetitionService(
		WithPetitionStore(store),
		WithCategoryStore(&fakeCategoryStore{valid: map[uuid.UUID]bool{categoryID: true}}),
		WithBlobStore(blobs),
		WithMaxUploadBytes(1024),
	)
	return &serviceFixture{svc: svc, store: store, blobs: blobs, categoryID: categoryID}
}

func (fx *serviceFixture) validFields() models.PetitionFields {
	return models.PetitionFields{
		Title:       "Clean River",
		Description: "Stop dumping waste upstream",
		Recipient:   "City Council",
		CategoryID:  fx.categoryID,
	}
}

func pdfUpload(name string, size int64) *FileUpload {
	return &FileUpload{
		OriginalName: name,
		MimeType:     "application/pdf",
		Size:         size,
		Data:         bytes.NewReader(bytes.Repeat([]byte{0x25}, int(size))),
	}
}

func TestCreatePetitionDefaults(t *testing.T) {
	fx := newFixture(t)
	actor := uuid.New()

	petition, err := fx.svc.CreatePetition(context.Background(), CreatePetitionRequest{
		ActorID: actor,
		Fields:  fx.validFields(),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatePending, petition.State)
	assert.Equal(t, 0, petition.SignerCount)
	assert.Equal(t, actor, petition.AuthorID)
	assert.Empty(t, petition.Attachments)
}

func TestCreatePetitionValidation(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.CreatePetition(context.Background(), CreatePetitionRequest{
		ActorID: uuid.New(),
		Fields:  models.PetitionFields{},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	fields := apperrors.FieldsOf(err)
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "description")
	assert.Contains(t, fields, "recipient")
	assert.Contains(t, fields, "category_id")
	assert.Empty(t, fx.store.petitions)
}

func TestCreatePetitionUnknownCategory(t *testing.T) {
	fx := newFixture(t)
	fields := fx.validFields()
	fields.CategoryID = uuid.New()

	_, err := fx.svc.CreatePetition(context.Background(), CreatePetitionRequest{
		ActorID: uuid.New(),
		Fields:  fields,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Contains(t, apperrors.FieldsOf(err), "category_id")
}

func TestCreatePetitionWithFile(t *testing.T) {
	fx := newFixture(t)

	petition, err := fx.svc.CreatePetition(context.Background(), CreatePetitionRequest{
		ActorID: uuid.New(),
		Fields:  fx.validFields(),
		File:    pdfUpload("evidence.pdf", 512),
	})
	require.NoError(t, err)

	require.Len(t, petition.Attachments, 1)
	att := petition.Attachments[0]
	assert.Equal(t, "evidence.pdf", att.OriginalName)
	assert.Contains(t, fx.blobs.blobs, att.StorageKey)
}

func TestCreatePetitionRejectsBadUploads(t *testing.T) {
	fx := newFixture(t)

	tests := []struct {
		name string
		file *FileUpload
	}{
		{
			name: "disallowed mime type",
			file: &FileUpload{OriginalName: "notes.txt", MimeType: "text/plain", Size: 10, Data: bytes.NewReader([]byte("hi"))},
		},
		{
			name: "over the size ceiling",
			file: pdfUpload("huge.pdf", 2048),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.CreatePetition(context.Background(), CreatePetitionRequest{
				ActorID: uuid.New(),
				Fields:  fx.validFields(),
				File:    tt.file,
			})
			require.Error(t, err)
			assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
			assert.Contains(t, apperrors.FieldsOf(err), "file")
			assert.Empty(t, fx.store.petitions)
			assert.Empty(t, fx.blobs.blobs)
		})
	}
}

func TestCreatePetitionStorageFailure(t *testing.T) {
	fx := newFixture(t)
	fx.blobs.failUpload = true

	_, err := fx.svc.CreatePetition(context.Background(), CreatePetitionRequest{
		ActorID: uuid.New(),
		Fields:  fx.validFields(),
		File:    pdfUpload("evidence.pdf", 512),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindStorage, apperrors.KindOf(err))
	assert.Empty(t, fx.store.petitions)
}

// A failed row write must not leave the already-uploaded blob behind.
func TestCreatePetitionRowFailureDiscardsBlob(t *testing.T) {
	fx := newFixture(t)
	fx.store.createErr = errors.New("connection reset")

	_, err := fx.svc.CreatePetition(context.Background(), CreatePetitionRequest{
		ActorID: uuid.New(),
		Fields:  fx.validFields(),
		File:    pdfUpload("evidence.pdf", 512),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
	assert.Empty(t, fx.store.petitions)
	assert.Empty(t, fx.blobs.blobs)
}

// A reload hiccup after the row committed is still an internal error, not an
// unclassified one.
func TestCreatePetitionReloadFailure(t *testing.T) {
	fx := newFixture(t)
	fx.store.getErr = errors.New("connection reset")

	_, err := fx.svc.CreatePetition(context.Background(), CreatePetitionRequest{
		ActorID: uuid.New(),
		Fields:  fx.validFields(),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
}

func (fx *serviceFixture) mustCreate(t *testing.T, actor uuid.UUID, file *FileUpload) *models.Petition {
	t.Helper()
	petition, err := fx.svc.CreatePetition(context.Background(), CreatePetitionRequest{
		ActorID: actor,
		Fields:  fx.validFields(),
		File:    file,
	})
	require.NoError(t, err)
	return petition
}

func TestUpdatePetitionNonAuthorForbidden(t *testing.T) {
	fx := newFixture(t)
	author := uuid.New()
	petition := fx.mustCreate(t, author, nil)

	fields := fx.validFields()
	fields.Title = "Hijacked"

	_, err := fx.svc.UpdatePetition(context.Background(), UpdatePetitionRequest{
		ActorID:    uuid.New(),
		PetitionID: petition.ID,
		Fields:     fields,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	assert.Equal(t, "Clean River", fx.store.petitions[petition.ID].Title)
}

func TestUpdatePetitionNotFound(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.UpdatePetition(context.Background(), UpdatePetitionRequest{
		ActorID:    uuid.New(),
		PetitionID: uuid.New(),
		Fields:     fx.validFields(),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestUpdatePetitionFields(t *testing.T) {
	fx := newFixture(t)
	author := uuid.New()
	petition := fx.mustCreate(t, author, nil)

	fields := fx.validFields()
	fields.Title = "Cleaner River"

	updated, err := fx.svc.UpdatePetition(context.Background(), UpdatePetitionRequest{
		ActorID:    author,
		PetitionID: petition.ID,
		Fields:     fields,
	})
	require.NoError(t, err)
	assert.Equal(t, "Cleaner River", updated.Title)
}

// Replacing the attachment must delete the prior blob.
func TestUpdatePetitionReplacesAttachment(t *testing.T) {
	fx := newFixture(t)
	author := uuid.New()
	petition := fx.mustCreate(t, author, pdfUpload("v1.pdf", 256))
	oldKey := petition.Attachments[0].StorageKey

	updated, err := fx.svc.UpdatePetition(context.Background(), UpdatePetitionRequest{
		ActorID:    author,
		PetitionID: petition.ID,
		Fields:     fx.validFields(),
		File:       pdfUpload("v2.pdf", 256),
	})
	require.NoError(t, err)

	require.Len(t, updated.Attachments, 1)
	assert.Equal(t, "v2.pdf", updated.Attachments[0].OriginalName)
	assert.NotContains(t, fx.blobs.blobs, oldKey)
	assert.Contains(t, fx.blobs.blobs, updated.Attachments[0].StorageKey)
}

// A failed replace transaction must discard the new blob and keep the old.
func TestUpdatePetitionReplaceFailureDiscardsNewBlob(t *testing.T) {
	fx := newFixture(t)
	author := uuid.New()
	petition := fx.mustCreate(t, author, pdfUpload("v1.pdf", 256))
	oldKey := petition.Attachments[0].StorageKey

	fx.store.replaceErr = errors.New("connection reset")

	_, err := fx.svc.UpdatePetition(context.Background(), UpdatePetitionRequest{
		ActorID:    author,
		PetitionID: petition.ID,
		Fields:     fx.validFields(),
		File:       pdfUpload("v2.pdf", 256),
	})
	require.Error(t, err)
	assert.Contains(t, fx.blobs.blobs, oldKey)
	assert.Len(t, fx.blobs.blobs, 1)
}

// An update carrying an invalid file must not commit the field changes.
func TestUpdatePetitionInvalidFileLeavesFieldsUnchanged(t *testing.T) {
	fx := newFixture(t)
	author := uuid.New()
	petition := fx.mustCreate(t, author, nil)

	fields := fx.validFields()
	fields.Title = "Cleaner River"

	tests := []struct {
		name string
		file *FileUpload
	}{
		{
			name: "disallowed mime type",
			file: &FileUpload{OriginalName: "notes.txt", MimeType: "text/plain", Size: 10, Data: bytes.NewReader([]byte("hi"))},
		},
		{
			name: "over the size ceiling",
			file: pdfUpload("huge.pdf", 2048),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.UpdatePetition(context.Background(), UpdatePetitionRequest{
				ActorID:    author,
				PetitionID: petition.ID,
				Fields:     fields,
				File:       tt.file,
			})
			require.Error(t, err)
			assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
			assert.Equal(t, "Clean River", fx.store.petitions[petition.ID].Title)
			assert.Empty(t, fx.blobs.blobs)
		})
	}
}

func TestDeletePetitionCascades(t *testing.T) {
	fx := newFixture(t)
	author := uuid.New()
	signer := uuid.New()
	petition := fx.mustCreate(t, author, pdfUpload("v1.pdf", 256))

	_, err := fx.svc.SignPetition(context.Background(), SignPetitionRequest{ActorID: signer, PetitionID: petition.ID})
	require.NoError(t, err)

	err = fx.svc.DeletePetition(context.Background(), DeletePetitionRequest{ActorID: author, PetitionID: petition.ID})
	require.NoError(t, err)

	_, err = fx.svc.GetPetition(context.Background(), petition.ID)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	assert.Empty(t, fx.blobs.blobs)
	assert.Zero(t, fx.store.signatureCount(petition.ID))
}

func TestDeletePetitionNonAuthorForbidden(t *testing.T) {
	fx := newFixture(t)
	petition := fx.mustCreate(t, uuid.New(), nil)

	err := fx.svc.DeletePetition(context.Background(), DeletePetitionRequest{ActorID: uuid.New(), PetitionID: petition.ID})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	assert.Contains(t, fx.store.petitions, petition.ID)
}

func TestSignPetitionOncePerUser(t *testing.T) {
	fx := newFixture(t)
	signer := uuid.New()
	petition := fx.mustCreate(t, uuid.New(), nil)

	signed, err := fx.svc.SignPetition(context.Background(), SignPetitionRequest{ActorID: signer, PetitionID: petition.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, signed.SignerCount)
	assert.Equal(t, 1, fx.store.signatureCount(petition.ID))

	_, err = fx.svc.SignPetition(context.Background(), SignPetitionRequest{ActorID: signer, PetitionID: petition.ID})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	assert.Equal(t, "already signed", err.Error())

	// Still exactly one signature row and a matching counter
	assert.Equal(t, 1, fx.store.signatureCount(petition.ID))
	assert.Equal(t, 1, fx.store.petitions[petition.ID].SignerCount)
}

func TestSignPetitionDistinctUsers(t *testing.T) {
	fx := newFixture(t)
	petition := fx.mustCreate(t, uuid.New(), nil)

	const signers = 5
	for i := 0; i < signers; i++ {
		_, err := fx.svc.SignPetition(context.Background(), SignPetitionRequest{ActorID: uuid.New(), PetitionID: petition.ID})
		require.NoError(t, err)
	}
	assert.Equal(t, signers, fx.store.petitions[petition.ID].SignerCount)
	assert.Equal(t, signers, fx.store.signatureCount(petition.ID))
}

func TestSignPetitionConcurrentDistinctUsers(t *testing.T) {
	fx := newFixture(t)
	petition := fx.mustCreate(t, uuid.New(), nil)

	const signers = 16
	var wg sync.WaitGroup
	errs := make(chan error, signers)
	for i := 0; i < signers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.SignPetition(context.Background(), SignPetitionRequest{ActorID: uuid.New(), PetitionID: petition.ID})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, signers, fx.store.petitions[petition.ID].SignerCount)
	assert.Equal(t, signers, fx.store.signatureCount(petition.ID))
}

func TestSignPetitionConcurrentSameUser(t *testing.T) {
	fx := newFixture(t)
	signer := uuid.New()
	petition := fx.mustCreate(t, uuid.New(), nil)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.SignPetition(context.Background(), SignPetitionRequest{ActorID: signer, PetitionID: petition.ID})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, fx.store.petitions[petition.ID].SignerCount)
	assert.Equal(t, 1, fx.store.signatureCount(petition.ID))
}

func TestSignPetitionNotFound(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.SignPetition(context.Background(), SignPetitionRequest{ActorID: uuid.New(), PetitionID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestChangeStateRequiresAdmin(t *testing.T) {
	fx := newFixture(t)
	petition := fx.mustCreate(t, uuid.New(), nil)

	_, err := fx.svc.ChangeState(context.Background(), ChangeStateRequest{
		ActorRole:  models.RoleUser,
		PetitionID: petition.ID,
		NewState:   models.StateAccepted,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	assert.Equal(t, models.StatePending, fx.store.petitions[petition.ID].State)

	accepted, err := fx.svc.ChangeState(context.Background(), ChangeStateRequest{
		ActorRole:  models.RoleAdmin,
		PetitionID: petition.ID,
		NewState:   models.StateAccepted,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StateAccepted, accepted.State)
}

func TestChangeStateRejectsBackwardTransition(t *testing.T) {
	fx := newFixture(t)
	petition := fx.mustCreate(t, uuid.New(), nil)

	_, err := fx.svc.ChangeState(context.Background(), ChangeStateRequest{
		ActorRole:  models.RoleAdmin,
		PetitionID: petition.ID,
		NewState:   models.StatePending,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestListMineFiltersByAuthor(t *testing.T) {
	fx := newFixture(t)
	mine := uuid.New()
	fx.mustCreate(t, mine, nil)
	fx.mustCreate(t, mine, nil)
	fx.mustCreate(t, uuid.New(), nil)

	petitions, err := fx.svc.ListMine(context.Background(), mine)
	require.NoError(t, err)
	assert.Len(t, petitions, 2)

	all, err := fx.svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

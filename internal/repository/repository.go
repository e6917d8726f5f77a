package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yourusername/medinterp/internal/models"
)

type Repositories struct {
	db *gorm.DB

	User           *UserRepository
	Patient        *PatientRepository
	Conversation   *ConversationRepository
	Message        *MessageRepository
	Note           *NoteRepository
	FollowUp       *FollowUpRepository
	Prescription   *PrescriptionRepository
	Summary        *SummaryRepository
	MedicalHistory *MedicalHistoryRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:             db,
		User:           NewUserRepository(db),
		Patient:        NewPatientRepository(db),
		Conversation:   NewConversationRepository(db),
		Message:        NewMessageRepository(db),
		Note:           NewNoteRepository(db),
		FollowUp:       NewFollowUpRepository(db),
		Prescription:   NewPrescriptionRepository(db),
		Summary:        NewSummaryRepository(db),
		MedicalHistory: NewMedicalHistoryRepository(db),
	}
}

// Transaction runs fn against a repository set bound to a single database
// transaction. An error from fn rolls every write inside it back.
func (r *Repositories) Transaction(fn func(tx *Repositories) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// ==================== User Repository ====================

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *UserRepository) GetByID(id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, "id = ?", id).Error
	return &user, err
}

func (r *UserRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, "email = ?", email).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) Update(user *models.User) error {
	return r.db.Save(user).Error
}

func (r *UserRepository) Delete(id uuid.UUID) error {
	return r.db.Delete(&models.User{}, "id = ?", id).Error
}

// ==================== Patient Repository ====================

type PatientRepository struct {
	db *gorm.DB
}

func NewPatientRepository(db *gorm.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

func (r *PatientRepository) Create(patient *models.Patient) error {
	return r.db.Create(patient).Error
}

func (r *PatientRepository) GetByID(id uuid.UUID) (*models.Patient, error) {
	var patient models.Patient
	err := r.db.First(&patient, "id = ?", id).Error
	return &patient, err
}

// FindByNameAndDOB locates an existing patient record so repeat visits reuse
// the same identity instead of creating duplicates. dob must already be
// normalized to a UTC date (midnight), the same form Create stores.
func (r *PatientRepository) FindByNameAndDOB(firstName, lastName string, dob time.Time) (*models.Patient, error) {
	var patient models.Patient
	err := r.db.Where("first_name = ? AND last_name = ? AND date_of_birth = ?", firstName, lastName, dob).
		First(&patient).Error
	return &patient, err
}

func (r *PatientRepository) Update(patient *models.Patient) error {
	return r.db.Save(patient).Error
}

// ==================== Conversation Repository ====================

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Create(conversation *models.Conversation) error {
	return r.db.Create(conversation).Error
}

func (r *ConversationRepository) GetByID(id uuid.UUID) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.First(&conversation, "id = ?", id).Error
	return &conversation, err
}

func (r *ConversationRepository) ListByUserID(userID uuid.UUID, limit, offset int) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.db.Where("user_id = ?", userID).
		Order("start_time DESC").
		Limit(limit).
		Offset(offset).
		Find(&conversations).Error
	return conversations, err
}

// ListByPatientID returns every conversation a patient has had, oldest
// first, so MedicalHistory generation can fold prior visits into a
// standing history.
func (r *ConversationRepository) ListByPatientID(patientID uuid.UUID) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.db.Where("patient_id = ?", patientID).
		Order("start_time ASC").
		Find(&conversations).Error
	return conversations, err
}

func (r *ConversationRepository) Update(conversation *models.Conversation) error {
	return r.db.Save(conversation).Error
}

func (r *ConversationRepository) Delete(id uuid.UUID) error {
	return r.db.Delete(&models.Conversation{}, "id = ?", id).Error
}

// ==================== Message Repository ====================

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(message *models.Message) error {
	return r.db.Create(message).Error
}

func (r *MessageRepository) ListByConversationID(conversationID uuid.UUID) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("timestamp ASC").
		Find(&messages).Error
	return messages, err
}

// ==================== Note Repository ====================

type NoteRepository struct {
	db *gorm.DB
}

func NewNoteRepository(db *gorm.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

func (r *NoteRepository) Create(note *models.Note) error {
	return r.db.Create(note).Error
}

func (r *NoteRepository) ListByConversationID(conversationID uuid.UUID) ([]models.Note, error) {
	var notes []models.Note
	err := r.db.Where("conversation_id = ?", conversationID).Order("created_at ASC").Find(&notes).Error
	return notes, err
}

// ==================== FollowUp Repository ====================

type FollowUpRepository struct {
	db *gorm.DB
}

func NewFollowUpRepository(db *gorm.DB) *FollowUpRepository {
	return &FollowUpRepository{db: db}
}

func (r *FollowUpRepository) Create(f *models.FollowUp) error {
	return r.db.Create(f).Error
}

func (r *FollowUpRepository) ListByConversationID(conversationID uuid.UUID) ([]models.FollowUp, error) {
	var followUps []models.FollowUp
	err := r.db.Where("conversation_id = ?", conversationID).Order("created_at ASC").Find(&followUps).Error
	return followUps, err
}

// ==================== Prescription Repository ====================

type PrescriptionRepository struct {
	db *gorm.DB
}

func NewPrescriptionRepository(db *gorm.DB) *PrescriptionRepository {
	return &PrescriptionRepository{db: db}
}

func (r *PrescriptionRepository) Create(p *models.Prescription) error {
	return r.db.Create(p).Error
}

func (r *PrescriptionRepository) ListByConversationID(conversationID uuid.UUID) ([]models.Prescription, error) {
	var prescriptions []models.Prescription
	err := r.db.Where("conversation_id = ?", conversationID).Order("created_at ASC").Find(&prescriptions).Error
	return prescriptions, err
}

// ==================== Summary Repository ====================

type SummaryRepository struct {
	db *gorm.DB
}

func NewSummaryRepository(db *gorm.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

func (r *SummaryRepository) Upsert(s *models.Summary) error {
	var existing models.Summary
	err := r.db.Where("conversation_id = ?", s.ConversationID).First(&existing).Error
	if err == nil {
		existing.Content = s.Content
		return r.db.Save(&existing).Error
	}
	return r.db.Create(s).Error
}

func (r *SummaryRepository) GetByConversationID(conversationID uuid.UUID) (*models.Summary, error) {
	var s models.Summary
	err := r.db.First(&s, "conversation_id = ?", conversationID).Error
	return &s, err
}

// ==================== MedicalHistory Repository ====================

type MedicalHistoryRepository struct {
	db *gorm.DB
}

func NewMedicalHistoryRepository(db *gorm.DB) *MedicalHistoryRepository {
	return &MedicalHistoryRepository{db: db}
}

func (r *MedicalHistoryRepository) Upsert(h *models.MedicalHistory) error {
	var existing models.MedicalHistory
	err := r.db.Where("conversation_id = ?", h.ConversationID).First(&existing).Error
	if err == nil {
		existing.Content = h.Content
		return r.db.Save(&existing).Error
	}
	return r.db.Create(h).Error
}

func (r *MedicalHistoryRepository) GetByConversationID(conversationID uuid.UUID) (*models.MedicalHistory, error) {
	var h models.MedicalHistory
	err := r.db.First(&h, "conversation_id = ?", conversationID).Error
	return &h, err
}

package domain

import "time"

// Platform is a messaging platform a student reaches the helpdesk from.
type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformFacebook Platform = "facebook"
)

// DefaultStudentName is stored when the platform does not supply a name.
const DefaultStudentName = "Student"

// Student is unique per (Identifier, Platform).
type Student struct {
	ID         string
	Name       string
	Identifier string
	Platform   Platform
	CreatedAt  time.Time
}

// Topic is the subject tag attached to messages.
type Topic string

const (
	TopicAdmission Topic = "admission"
	TopicFees      Topic = "fees"
	TopicExams     Topic = "exams"
	TopicGeneral   Topic = "general"
)

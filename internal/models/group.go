package models

// Group kinds known to the PBX directory.
const (
	GroupKindRing       = "ring"
	GroupKindHunt       = "hunt"
	GroupKindDepartment = "department"
)

// Group is a ring/hunt group or department that notifications can target.
type Group struct {
	BaseModel

	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Kind        string `gorm:"size:32;not null;default:'department'" json:"kind"`
	Extension   string `gorm:"size:32" json:"extension"`
	Description string `json:"description"`

	Users []User `gorm:"many2many:user_groups;" json:"users,omitempty"`
}

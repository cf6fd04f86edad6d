package domain

// User roles
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// User Model
type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`                                     // Primary key
	Name     string `gorm:"size:128;not null" json:"name"`                            // Display name
	Role     string `gorm:"size:16;default:customer" json:"role"`                     // Role: customer, staff or admin
	Locality string `gorm:"size:64;index" json:"locality"`                            // Home locality (staff: assigned locality)
	Streak   int    `gorm:"not null;default:0" json:"streak"`                         // Consecutive delivered days, mutated only by the reward hook
	Wallet   Wallet `gorm:"foreignKey:OwnerID;constraint:OnUpdate:CASCADE;" json:"-"` // One-to-one relationship with Wallet
}

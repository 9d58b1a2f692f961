package domain

import "time"

type Role string

const (
	RoleAdmin      Role = "admin"
	RolePharmacist Role = "pharmacist"
	RoleCashier    Role = "cashier"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePharmacist, RoleCashier:
		return true
	}
	return false
}

type User struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	Password  string    `json:"-" db:"password"`
	Role      Role      `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

package models

import "time"

// SKU represents a sellable catalog item
type SKU struct {
	ID         int64     `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	CategoryID int64     `db:"category_id" json:"category_id"`
	Price      int64     `db:"price" json:"price"`
	Stock      int       `db:"stock" json:"stock"`
	Sales      int       `db:"sales" json:"sales"`
	IsLaunched bool      `db:"is_launched" json:"is_launched"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// User represents a registered account
type User struct {
	ID               int64     `db:"id" json:"id"`
	Username         string    `db:"username" json:"username"`
	Mobile           string    `db:"mobile" json:"mobile"`
	Email            string    `db:"email" json:"email"`
	EmailActive      bool      `db:"email_active" json:"email_active"`
	PasswordHash     string    `db:"password_hash" json:"-"`
	DefaultAddressID *int64    `db:"default_address_id" json:"default_address_id,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Address is a delivery address owned by a user.
// Deleted addresses stay as rows with is_deleted set.
type Address struct {
	ID        int64  `db:"id" json:"id"`
	UserID    int64  `db:"user_id" json:"-"`
	Title     string `db:"title" json:"title"`
	Receiver  string `db:"receiver" json:"receiver"`
	Province  string `db:"province" json:"province"`
	City      string `db:"city" json:"city"`
	District  string `db:"district" json:"district"`
	Place     string `db:"place" json:"place"`
	Mobile    string `db:"mobile" json:"mobile"`
	Tel       string `db:"tel" json:"tel,omitempty"`
	Email     string `db:"email" json:"email,omitempty"`
	IsDeleted bool   `db:"is_deleted" json:"-"`
}

// OAuthBinding links a provider openid to a local user
type OAuthBinding struct {
	ID        int64     `db:"id" json:"id"`
	OpenID    string    `db:"openid" json:"openid"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order is immutable after settlement commits.
// ID is a 14-digit local timestamp followed by the zero-padded 9-digit user id.
type Order struct {
	ID          string    `db:"id" json:"order_id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	AddressID   int64     `db:"address_id" json:"address_id"`
	TotalCount  int       `db:"total_count" json:"total_count"`
	TotalAmount int64     `db:"total_amount" json:"total_amount"`
	Freight     int64     `db:"freight" json:"freight"`
	PayMethod   int       `db:"pay_method" json:"pay_method"`
	Status      int       `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// OrderLine carries the unit price snapshotted at settlement time.
// Later catalog price changes never touch committed orders.
type OrderLine struct {
	ID        int64  `db:"id" json:"id"`
	OrderID   string `db:"order_id" json:"order_id"`
	SKUID     int64  `db:"sku_id" json:"sku_id"`
	Quantity  int    `db:"quantity" json:"quantity"`
	UnitPrice int64  `db:"unit_price" json:"unit_price"`
}

// Pay methods
const (
	PayMethodCash   = 1
	PayMethodAlipay = 2
)

// Order statuses
const (
	OrderStatusUnpaid     = 1
	OrderStatusUnsent     = 2
	OrderStatusUnreceived = 3
	OrderStatusUncomment  = 4
	OrderStatusFinished   = 5
	OrderStatusCanceled   = 6
)

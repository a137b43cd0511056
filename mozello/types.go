package mozello

import "github.com/shopspring/decimal"

// Product is the remote store product. Title and description are
// multilanguage maps keyed by language code.
type Product struct {
	Handle      string            `json:"handle,omitempty"`
	Title       map[string]string `json:"title,omitempty"`
	Description map[string]string `json:"description,omitempty"`
	Price       *decimal.Decimal  `json:"price,omitempty"`
	SalePrice   *decimal.Decimal  `json:"sale_price,omitempty"`
	Stock       *int              `json:"stock,omitempty"`
	Visible     *bool             `json:"visible,omitempty"`
	RelativeURL string            `json:"relative_url,omitempty"`
}

type Picture struct {
	UID string `json:"uid"`
	URL string `json:"url"`
}

type OrderCartItem struct {
	ProductHandle string           `json:"product_handle"`
	ProductName   string           `json:"product_name,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Quantity      int              `json:"quantity,omitempty"`
}

// Order is one remote order as returned by the order list endpoint and as
// embedded in webhook payloads.
type Order struct {
	ID            string          `json:"id,omitempty"`
	Email         string          `json:"email"`
	Cart          []OrderCartItem `json:"cart"`
	PaymentStatus string          `json:"payment_status"`
	CreatedAt     string          `json:"created_at,omitempty"`
}

type productResponse struct {
	Error   bool     `json:"error"`
	Product *Product `json:"product"`
}

type productListResponse struct {
	Error    bool      `json:"error"`
	Products []Product `json:"products"`
	HasMore  bool      `json:"has_more"`
}

type pictureListResponse struct {
	Error    bool      `json:"error"`
	Pictures []Picture `json:"pictures"`
}

type pictureResponse struct {
	Error   bool     `json:"error"`
	Picture *Picture `json:"picture"`
}

type orderListResponse struct {
	Error   bool    `json:"error"`
	Orders  []Order `json:"orders"`
	HasMore bool    `json:"has_more"`
}

type okResponse struct {
	Error bool `json:"error"`
}

// NotificationSettings is pushed to the platform so it knows where to send
// webhooks and which event kinds are wanted.
type NotificationSettings struct {
	NotificationsURL    string   `json:"notifications_url"`
	NotificationsWanted []string `json:"notifications_wanted"`
}

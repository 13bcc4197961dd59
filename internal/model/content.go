package model

// Base carries the common record fields for typed content structs.
// Timestamps are ISO-8601 strings as stored.
type Base struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// BlogPost is an article on the blog.
type BlogPost struct {
	Base
	Title       string   `json:"title"`
	Slug        string   `json:"slug,omitempty"`
	Excerpt     string   `json:"excerpt,omitempty"`
	Content     string   `json:"content,omitempty"`
	Status      string   `json:"status,omitempty"` // draft | published
	Featured    bool     `json:"featured,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CoverImage  string   `json:"cover_image,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
}

// Course is a paid or free course listing.
type Course struct {
	Base
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Level       string  `json:"level,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	Featured    bool    `json:"featured,omitempty"`
	Status      string  `json:"status,omitempty"`
}

// Resource is a downloadable or linked resource.
type Resource struct {
	Base
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	URL         string `json:"url,omitempty"`
	Downloads   int    `json:"downloads,omitempty"`
	Featured    bool   `json:"featured,omitempty"`
}

// PortfolioProject is a showcased project.
type PortfolioProject struct {
	Base
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Client       string   `json:"client,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
	ImageURL     string   `json:"image_url,omitempty"`
	ProjectURL   string   `json:"project_url,omitempty"`
	Featured     bool     `json:"featured,omitempty"`
	CompletedAt  string   `json:"completed_at,omitempty"`
}

// DigitalProduct is a storefront item.
type DigitalProduct struct {
	Base
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency,omitempty"`
	Stock       int     `json:"stock,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	Featured    bool    `json:"featured,omitempty"`
	Active      bool    `json:"active,omitempty"`
}

// Event is a scheduled event.
type Event struct {
	Base
	Title     string `json:"title"`
	EventDate string `json:"event_date"`
	Location  string `json:"location,omitempty"`
	Capacity  int    `json:"capacity,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Order is a storefront order.
type Order struct {
	Base
	ProductID     string  `json:"product_id"`
	CustomerEmail string  `json:"customer_email"`
	CustomerName  string  `json:"customer_name,omitempty"`
	Quantity      int     `json:"quantity"`
	Total         float64 `json:"total"`
	Status        string  `json:"status,omitempty"` // pending | paid | refunded
}

// ContactMessage is a message sent through the contact form.
type ContactMessage struct {
	Base
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
	Read    bool   `json:"read,omitempty"`
}

// OnboardingResponse stores a visitor's onboarding questionnaire answers.
type OnboardingResponse struct {
	Base
	Email   string            `json:"email"`
	Answers map[string]string `json:"answers,omitempty"`
	Source  string            `json:"source,omitempty"`
}

// SocialMediaPost is a scheduled or published social post.
type SocialMediaPost struct {
	Base
	Platform    string `json:"platform"`
	Content     string `json:"content"`
	Status      string `json:"status,omitempty"`
	ScheduledAt string `json:"scheduled_at,omitempty"`
	Likes       int    `json:"likes,omitempty"`
}

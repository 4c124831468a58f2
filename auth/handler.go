package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"storefront/herr"
	"storefront/session"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"!password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"!password"`
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
}

type userIDResponse struct {
	UserID int64 `json:"userId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func sessionFrom(r *http.Request) (*Session, *herr.Error) {
	sess, ok := session.FromContext[SessionData](r.Context())
	if !ok {
		return nil, herr.Internal(errors.New("no session"), "No session data on context")
	}
	return sess, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) *herr.Error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return herr.BadRequest(err, "Error decoding request body").WithMessage("Invalid request body")
	}
	return nil
}

func toHTTP(err error, desc string) *herr.Error {
	switch {
	case errors.Is(err, ErrNotFound):
		return herr.NotFound(err, desc).WithMessage("User not found")
	case errors.Is(err, ErrUnauthorized):
		return herr.Unauthorized(err, desc).WithMessage("Invalid username or password")
	case errors.Is(err, ErrUnauthenticated):
		return herr.Unauthorized(err, desc).WithMessage("Not authenticated")
	case errors.Is(err, ErrConflict):
		return herr.Conflict(err, desc).WithMessage("User already exists")
	case errors.Is(err, ErrInvalidInput):
		return herr.BadRequest(err, desc).WithMessage(err.Error())
	default:
		return herr.Internal(err, desc)
	}
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) *herr.Error {
	sess, e := sessionFrom(r)
	if e != nil {
		return e
	}
	var req loginRequest
	if e := decode(w, r, &req); e != nil {
		return e
	}

	userID, err := h.service.Login(r.Context(), sess, req.Username, req.Password)
	if err != nil {
		return toHTTP(err, "Login failed")
	}

	herr.JSON(w, http.StatusOK, userIDResponse{UserID: userID})
	return nil
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) *herr.Error {
	sess, e := sessionFrom(r)
	if e != nil {
		return e
	}

	userID, err := h.service.Me(sess)
	if err != nil {
		return toHTTP(err, "No user on session")
	}

	herr.JSON(w, http.StatusOK, userIDResponse{UserID: userID})
	return nil
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) *herr.Error {
	var req registerRequest
	if e := decode(w, r, &req); e != nil {
		return e
	}

	_, err := h.service.Register(r.Context(), RegisterInput{
		Username: req.Username,
		Password: req.Password,
		Fullname: req.Fullname,
		Email:    req.Email,
	})
	if err != nil {
		return toHTTP(err, "Registration failed")
	}

	herr.JSON(w, http.StatusOK, messageResponse{Message: "User registered successfully."})
	return nil
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) *herr.Error {
	sess, e := sessionFrom(r)
	if e != nil {
		return e
	}

	if err := h.service.Logout(sess); err != nil {
		return toHTTP(err, "Logout without session user")
	}

	herr.JSON(w, http.StatusOK, messageResponse{Message: "Logout successful."})
	return nil
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.Handle("POST /auth/login", herr.Wrap(h.HandleLogin))
	mux.Handle("GET /auth/me", herr.Wrap(h.HandleMe))
	mux.Handle("POST /auth/register", herr.Wrap(h.HandleRegister))
	mux.Handle("POST /auth/logout", herr.Wrap(h.HandleLogout))
}

package documents

import (
	"errors"
	"net/http"
	"strings"

	"codocs/core"
	"codocs/handlers/auth"
	"codocs/handlers/websocket"
	"codocs/middleware"
	"codocs/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

func requestClaims(r *http.Request) (*auth.AppClaims, bool) {
	claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
	return claims, ok
}

func renderUnauthorized(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]string{"error": "User claims not found"})
}

// loadManaged fetches the document and enforces the owner-only management
// predicate, writing the response on failure.
func loadManaged(w http.ResponseWriter, r *http.Request, store core.DocumentStore, userID string) (*core.Document, bool) {
	id := chi.URLParam(r, "id")
	doc, err := store.FindID(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Document not found"})
		} else {
			logrus.WithError(err).WithField("document_id", id).Error("Failed to load document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Server error"})
		}
		return nil, false
	}
	if !core.CanManage(userID, doc) {
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, map[string]string{"error": "Only the document owner can do this"})
		return nil, false
	}
	return doc, true
}

// HandleList returns every document the caller owns or collaborates on,
// newest first.
func HandleList(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requestClaims(r)
		if !ok {
			renderUnauthorized(w, r)
			return
		}

		docs, err := store.ListForUser(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithError(err).WithField("user_id", claims.Subject).Error("Failed to list documents")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list documents"})
			return
		}
		if docs == nil {
			docs = []*core.Document{}
		}
		render.JSON(w, r, docs)
	}
}

// HandleCreate creates an empty document owned by the caller.
func HandleCreate(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requestClaims(r)
		if !ok {
			renderUnauthorized(w, r)
			return
		}

		doc, err := store.Create(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithError(err).WithField("user_id", claims.Subject).Error("Failed to create document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create document"})
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, doc)
	}
}

// HandleRename changes the title, owner only. The live room, if any, is
// notified so open editors can update their headers.
func HandleRename(store stores.Store, registry *websocket.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requestClaims(r)
		if !ok {
			renderUnauthorized(w, r)
			return
		}

		var req struct {
			Title string `json:"title"`
		}
		if err := render.DecodeJSON(r.Body, &req); err != nil || strings.TrimSpace(req.Title) == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Title is required"})
			return
		}

		doc, ok := loadManaged(w, r, store, claims.Subject)
		if !ok {
			return
		}

		if err := store.UpdateTitle(r.Context(), doc.ID, req.Title); err != nil {
			logrus.WithError(err).WithField("document_id", doc.ID).Error("Failed to rename document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Server error"})
			return
		}

		registry.NotifyAll(doc.ID, "document-renamed", req.Title)

		doc.Title = req.Title
		render.JSON(w, r, doc)
	}
}

// HandleDelete removes the document, owner only, and evicts its live room.
func HandleDelete(store stores.Store, registry *websocket.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requestClaims(r)
		if !ok {
			renderUnauthorized(w, r)
			return
		}

		doc, ok := loadManaged(w, r, store, claims.Subject)
		if !ok {
			return
		}

		if err := store.Delete(r.Context(), doc.ID); err != nil {
			logrus.WithError(err).WithField("document_id", doc.ID).Error("Failed to delete document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Server error"})
			return
		}

		registry.EvictAll(doc.ID, "document-deleted")

		render.JSON(w, r, map[string]string{"message": "Document deleted successfully"})
	}
}

type shareRequest struct {
	Email string `json:"email"`
}

// HandleShare grants a user access by email, owner only.
func HandleShare(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requestClaims(r)
		if !ok {
			renderUnauthorized(w, r)
			return
		}

		var req shareRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil || req.Email == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Email is required"})
			return
		}

		doc, ok := loadManaged(w, r, store, claims.Subject)
		if !ok {
			return
		}

		target, err := store.FindByEmail(r.Context(), req.Email)
		if err != nil {
			if errors.Is(err, core.ErrUserNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "User to share with not found"})
				return
			}
			logrus.WithError(err).Error("Failed to look up user")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Server error"})
			return
		}

		if target.ID == claims.Subject {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "You cannot share a document with yourself"})
			return
		}

		if err := store.AddCollaborator(r.Context(), doc.ID, target.ID); err != nil {
			if errors.Is(err, core.ErrAlreadyShared) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "Document already shared with this user"})
				return
			}
			logrus.WithError(err).WithField("document_id", doc.ID).Error("Failed to add collaborator")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Server error"})
			return
		}

		logrus.WithFields(logrus.Fields{
			"document_id": doc.ID,
			"user_id":     target.ID,
		}).Info("Document shared")
		render.JSON(w, r, map[string]string{"message": "Document shared successfully"})
	}
}

// HandleUnshare revokes a collaborator's access by email, owner only. Any
// live connections of that user are notified and detached from the room;
// other members stay untouched.
func HandleUnshare(store stores.Store, registry *websocket.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requestClaims(r)
		if !ok {
			renderUnauthorized(w, r)
			return
		}

		var req shareRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil || req.Email == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Email is required"})
			return
		}

		doc, ok := loadManaged(w, r, store, claims.Subject)
		if !ok {
			return
		}

		target, err := store.FindByEmail(r.Context(), req.Email)
		if err != nil {
			if errors.Is(err, core.ErrUserNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "User to remove not found"})
				return
			}
			logrus.WithError(err).Error("Failed to look up user")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Server error"})
			return
		}

		if err := store.RemoveCollaborator(r.Context(), doc.ID, target.ID); err != nil {
			if errors.Is(err, core.ErrNotCollaborator) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "User is not a collaborator on this document"})
				return
			}
			logrus.WithError(err).WithField("document_id", doc.ID).Error("Failed to remove collaborator")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Server error"})
			return
		}

		registry.EvictUser(doc.ID, target.ID, "permission-revoked", doc.ID)

		logrus.WithFields(logrus.Fields{
			"document_id": doc.ID,
			"user_id":     target.ID,
		}).Info("Collaborator removed")
		render.JSON(w, r, map[string]string{"message": "Collaborator removed successfully"})
	}
}

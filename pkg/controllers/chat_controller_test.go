package controllers_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/campuskit/sage/pkg/api"
	"github.com/campuskit/sage/pkg/chat"
	"github.com/campuskit/sage/pkg/controllers"
	"github.com/campuskit/sage/pkg/stream"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ChatController", func() {
	var (
		streamer   *fakeStreamer
		asker      *fakeAsker
		controller *controllers.ChatController
		notices    *noticeLog
	)

	BeforeEach(func() {
		streamer = &fakeStreamer{}
		asker = &fakeAsker{}
		notices = &noticeLog{}
		controller = controllers.NewChatController(streamer, asker)
		controller.SetOnNotice(notices.record)
	})

	lastMessage := func() chat.Message {
		msgs := controller.Messages()
		Expect(msgs).ToNot(BeEmpty())
		return msgs[len(msgs)-1]
	}

	Describe("sending a message", func() {
		It("should open with a greeting", func() {
			msgs := controller.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Role).To(Equal(chat.RoleAssistant))
			Expect(msgs[0].Text).To(Equal(chat.DefaultGreeting))
		})

		It("should reject empty and whitespace-only input", func() {
			Expect(controller.SendMessage(context.Background(), "")).To(MatchError(controllers.ErrEmptyMessage))
			Expect(controller.SendMessage(context.Background(), "   \n\t")).To(MatchError(controllers.ErrEmptyMessage))
			Expect(controller.Messages()).To(HaveLen(1))
			Expect(streamer.calls).To(BeZero())
		})

		It("should append the user message and a pending reply", func() {
			Expect(controller.SendMessage(context.Background(), "  where is the gym?  ")).To(Succeed())

			msgs := controller.Messages()
			Expect(msgs).To(HaveLen(3))
			Expect(msgs[1].Role).To(Equal(chat.RoleUser))
			Expect(msgs[1].Text).To(Equal("where is the gym?"))
			Expect(msgs[2].Role).To(Equal(chat.RoleAssistant))
			Expect(msgs[2].Pending).To(BeTrue())
			Expect(controller.IsLoading()).To(BeTrue())
		})

		It("should refuse a second send while one is in flight", func() {
			Expect(controller.SendMessage(context.Background(), "first")).To(Succeed())
			Expect(controller.SendMessage(context.Background(), "second")).To(MatchError(controllers.ErrSendInFlight))
			Expect(controller.Messages()).To(HaveLen(3))
		})

		It("should allow a new send after the previous turn completes", func() {
			Expect(controller.SendMessage(context.Background(), "first")).To(Succeed())
			streamer.events().OnDone()
			Expect(controller.SendMessage(context.Background(), "second")).To(Succeed())
			Expect(controller.Messages()).To(HaveLen(5))
		})
	})

	Describe("streamed replies", func() {
		BeforeEach(func() {
			Expect(controller.SendMessage(context.Background(), "when does the library open?")).To(Succeed())
		})

		It("should accumulate deltas into the open reply", func() {
			streamer.events().OnDelta("The library ")
			streamer.events().OnDelta("opens at 8am.")

			msg := lastMessage()
			Expect(msg.Text).To(Equal("The library opens at 8am."))
			Expect(msg.Pending).To(BeFalse())
		})

		It("should attach references to the open reply", func() {
			streamer.events().OnDelta("See the handbook.")
			streamer.events().OnReferences([]chat.ReferenceArticle{{ID: 7, Title: "Library hours", URL: "http://a"}})

			msg := lastMessage()
			Expect(msg.References).To(HaveLen(1))
			Expect(msg.References[0].Title).To(Equal("Library hours"))
		})

		It("should clear loading and the thinking display on done", func() {
			streamer.events().OnDelta("8am.")
			streamer.events().OnDone()

			Expect(controller.IsLoading()).To(BeFalse())
			msg := lastMessage()
			Expect(msg.Pending).To(BeFalse())
			Expect(msg.ThinkingSeconds).To(BeZero())
		})

		It("should substitute a notice when the reply finishes empty", func() {
			streamer.events().OnDone()
			Expect(lastMessage().Text).To(ContainSubstring("couldn't come up with an answer"))
		})

		It("should ignore events arriving after done", func() {
			streamer.events().OnDelta("final")
			streamer.events().OnDone()
			streamer.events().OnDelta(" straggler")

			Expect(lastMessage().Text).To(Equal("final"))
		})
	})

	Describe("streaming failures", func() {
		BeforeEach(func() {
			Expect(controller.SendMessage(context.Background(), "q")).To(Succeed())
		})

		It("should show the calmer notice for an overloaded service without surfacing it", func() {
			streamer.events().OnError(&stream.RequestError{Status: http.StatusServiceUnavailable, Message: "overloaded"})

			Expect(controller.IsLoading()).To(BeFalse())
			Expect(lastMessage().Text).To(ContainSubstring("busy right now"))
			Expect(notices.all()).To(BeEmpty())
		})

		It("should surface other failures through the notice hook", func() {
			streamer.events().OnError(&stream.RequestError{Status: http.StatusInternalServerError, Message: "boom"})

			Expect(lastMessage().Text).To(ContainSubstring("something went wrong"))
			errs := notices.all()
			Expect(errs).To(HaveLen(1))
			var reqErr *stream.RequestError
			Expect(errors.As(errs[0], &reqErr)).To(BeTrue())
			Expect(reqErr.Status).To(Equal(http.StatusInternalServerError))
		})

		It("should fail the turn when the stream cannot be opened", func() {
			streamer.events().OnDone()

			streamer.err = errors.New("dial tcp: connection refused")
			Expect(controller.SendMessage(context.Background(), "again")).To(Succeed())

			Expect(controller.IsLoading()).To(BeFalse())
			Expect(lastMessage().Text).To(ContainSubstring("something went wrong"))
		})
	})

	Describe("single-shot fallback", func() {
		BeforeEach(func() {
			streamer.err = stream.ErrStreamingUnsupported
		})

		It("should fill the reply from one request", func() {
			asker.resp = api.AskResponse{
				Answer:     "The gym closes at 10pm.",
				RefsDashed: []chat.ReferenceArticle{{ID: 2, Title: "Gym", URL: "http://g"}},
			}

			Expect(controller.SendMessage(context.Background(), "gym hours?")).To(Succeed())

			Eventually(controller.IsLoading).Should(BeFalse())
			msg := lastMessage()
			Expect(msg.Text).To(Equal("The gym closes at 10pm."))
			Expect(msg.References).To(HaveLen(1))
			Expect(asker.callCount()).To(Equal(1))
		})

		It("should route fallback failures through the shared error handling", func() {
			asker.err = &stream.RequestError{Status: http.StatusServiceUnavailable, Message: "busy"}

			Expect(controller.SendMessage(context.Background(), "q")).To(Succeed())

			Eventually(controller.IsLoading).Should(BeFalse())
			Expect(lastMessage().Text).To(ContainSubstring("busy right now"))
			Expect(notices.all()).To(BeEmpty())
		})

		It("should substitute a notice for an empty fallback answer", func() {
			asker.resp = api.AskResponse{}

			Expect(controller.SendMessage(context.Background(), "q")).To(Succeed())

			Eventually(controller.IsLoading).Should(BeFalse())
			Expect(lastMessage().Text).To(ContainSubstring("couldn't come up with an answer"))
		})
	})

	Describe("aborting", func() {
		It("should be a no-op when idle", func() {
			controller.AbortActive()
			Expect(controller.Messages()).To(HaveLen(1))
		})

		It("should stop the stream and ignore late events", func() {
			Expect(controller.SendMessage(context.Background(), "q")).To(Succeed())
			streamer.events().OnDelta("partial")

			controller.AbortActive()

			Expect(controller.IsLoading()).To(BeFalse())
			Expect(streamer.lastAborter().aborts.Load()).To(Equal(int32(1)))

			streamer.events().OnDelta(" late")
			streamer.events().OnDone()
			msg := lastMessage()
			Expect(msg.Text).To(Equal("partial"))
			Expect(msg.Pending).To(BeFalse())
		})

		It("should allow a new send after an abort", func() {
			Expect(controller.SendMessage(context.Background(), "q")).To(Succeed())
			controller.AbortActive()
			Expect(controller.SendMessage(context.Background(), "q2")).To(Succeed())
		})
	})

	Describe("clearing the conversation", func() {
		It("should reset the transcript to a fresh greeting", func() {
			Expect(controller.SendMessage(context.Background(), "q")).To(Succeed())
			streamer.events().OnDelta("partial answer")

			controller.ClearConversation()

			msgs := controller.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Text).To(Equal(chat.ClearedGreeting))
			Expect(controller.IsLoading()).To(BeFalse())
			Expect(streamer.lastAborter().aborts.Load()).To(Equal(int32(1)))
		})

		It("should drop events addressed to the cleared transcript", func() {
			Expect(controller.SendMessage(context.Background(), "q")).To(Succeed())
			events := streamer.events()

			controller.ClearConversation()
			events.OnDelta("ghost")
			events.OnDone()

			msgs := controller.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Text).To(Equal(chat.ClearedGreeting))
		})
	})

	Describe("update notifications", func() {
		It("should fire on every transcript change", func() {
			var updates atomic.Int32
			controller.SetOnUpdate(func() { updates.Add(1) })

			Expect(controller.SendMessage(context.Background(), "q")).To(Succeed())
			streamer.events().OnDelta("a")
			streamer.events().OnDone()

			Expect(updates.Load()).To(BeNumerically(">=", 3))
		})
	})
})

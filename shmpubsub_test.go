package shmpubsub_test

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atolab/shmpubsub"
	"github.com/atolab/shmpubsub/message"
	"github.com/atolab/shmpubsub/net"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

func openNode() *shmpubsub.Node {
	GinkgoHelper()
	node := Successful(shmpubsub.Open(
		net.WithSegmentDir(GinkgoT().TempDir()),
		net.WithLoopback(true)))
	DeferCleanup(func() {
		Expect(node.Close()).To(Succeed())
	})
	return node
}

var _ = Describe("paths", func() {

	It("rejects invalid paths", func() {
		for _, p := range []string{"", "/", "//", "a?b", "a#b", "a[0]", "a/*", "a\x00"} {
			Expect(shmpubsub.NewPath(p)).Error().To(HaveOccurred(), "path %q", p)
		}
	})

	It("removes useless slashes", func() {
		Expect(Successful(shmpubsub.NewPath("//a///b/")).ToString()).To(Equal("/a/b"))
		Expect(Successful(shmpubsub.NewPath("image")).IsRelative()).To(BeTrue())
	})

	It("adds a prefix", func() {
		prefix := Successful(shmpubsub.NewPath("/demo"))
		p := Successful(shmpubsub.NewPath("camera/front"))
		Expect(p.AddPrefix(prefix).ToString()).To(Equal("/demo/camera/front"))
		Expect(p.AddPrefix(prefix).IsRelative()).To(BeFalse())
	})

})

var _ = Describe("encodings", func() {

	It("refuses to register a decoder twice", func() {
		Expect(shmpubsub.RegisterValueDecoder(shmpubsub.STRING, func([]byte) (shmpubsub.Value, error) {
			return nil, nil
		})).To(MatchError(ContainSubstring("Already registered")))
	})

})

var _ = Describe("typed publish/subscribe", func() {

	var node *shmpubsub.Node

	BeforeEach(func() {
		node = openNode()
	})

	receive := func(zeroCopy bool) (*atomic.Uint64, *atomic.Bool) {
		var bytes atomic.Uint64
		var sawZeroCopy atomic.Bool
		Expect(shmpubsub.DeclareSubscriber(node, "image", &message.CompressedImage{},
			func(topic string, msg *message.CompressedImage, info *net.DataInfo) {
				Expect(topic).To(Equal("image"))
				Expect(msg.Format).To(Equal("jpg"))
				bytes.Add(uint64(msg.Size()))
				sawZeroCopy.Store(info.ZeroCopy())
			})).Error().NotTo(HaveOccurred())
		return &bytes, &sawZeroCopy
	}

	for _, zeroCopy := range []bool{false, true} {
		zeroCopy := zeroCopy

		It("delivers structured payloads", func() {
			received, sawZeroCopy := receive(zeroCopy)
			pub := Successful(shmpubsub.DeclarePublisher[*message.CompressedImage](node, "image"))
			pub.EnableZeroCopy(zeroCopy)
			pub.SetAcknowledgeTimeout(time.Second)
			Expect(pub.SubscriberCount()).To(Equal(1))

			img := message.NewCompressedImage(64*1024, "jpg")
			for i := 0; i < 10; i++ {
				Expect(pub.Send(img)).To(Succeed())
			}
			Expect(received.Load()).To(Equal(uint64(10 * img.Size())))
			Expect(sawZeroCopy.Load()).To(Equal(zeroCopy))
			Expect(pub.Stats().Sent).To(Equal(uint64(10)))
		})

		It("delivers pre-serialized buffers to structured subscribers", func() {
			received, _ := receive(zeroCopy)
			pub := Successful(shmpubsub.DeclarePublisher[*message.CompressedImage](node, "image"))
			pub.EnableZeroCopy(zeroCopy)
			pub.SetAcknowledgeTimeout(time.Second)

			img := message.NewCompressedImage(1024, "jpg")
			buf := make([]byte, img.Size())
			Expect(img.MarshalTo(buf)).To(Equal(len(buf)))
			Expect(pub.Raw().Send(buf)).To(Succeed())
			Expect(received.Load()).To(Equal(uint64(img.Size())))
		})
	}

	It("counts undecodable data", func() {
		sub := Successful(shmpubsub.DeclareSubscriber(node, "image", &message.CompressedImage{},
			func(string, *message.CompressedImage, *net.DataInfo) {
				Fail("listener must not be called")
			}))
		pub := Successful(node.Session().DeclarePublisher("image"))
		pub.SetAcknowledgeTimeout(time.Second)

		Expect(pub.SendWO([]byte("text"), shmpubsub.STRING, shmpubsub.PUT)).To(Succeed())
		Expect(pub.Send([]byte{0x0a, 0xff})).To(Succeed())
		Expect(sub.DecodeErrors()).To(Equal(uint64(2)))
		Expect(sub.Stats().Received).To(Equal(uint64(2)))
	})

	It("undeclares endpoints", func() {
		sub := Successful(shmpubsub.DeclareSubscriber(node, "image", &message.CompressedImage{},
			func(string, *message.CompressedImage, *net.DataInfo) {}))
		pub := Successful(shmpubsub.DeclarePublisher[*message.CompressedImage](node, "image"))
		Expect(pub.Topic()).To(Equal("image"))
		Expect(sub.Topic()).To(Equal("image"))

		Expect(pub.Undeclare()).To(Succeed())
		Expect(pub.Send(message.NewCompressedImage(1, "jpg"))).To(HaveOccurred())
		Expect(sub.Undeclare()).To(Succeed())
		Expect(sub.Undeclare()).To(HaveOccurred())
		Expect(node.Admin().GetTopics()).To(BeEmpty())
	})

	It("rejects invalid topics", func() {
		Expect(shmpubsub.DeclarePublisher[*message.CompressedImage](node, "a*")).Error().To(HaveOccurred())
		Expect(shmpubsub.DeclareSubscriber(node, "", &message.CompressedImage{}, nil)).Error().To(HaveOccurred())
	})

})

var _ = Describe("workspaces", func() {

	It("puts, subscribes and removes values", func() {
		node := openNode()
		ws := node.Workspace(Successful(shmpubsub.NewPath("/demo")))
		ws.SetAcknowledgeTimeout(time.Second)
		DeferCleanup(ws.Close)

		var mu sync.Mutex
		var changes []shmpubsub.Change
		subid := Successful(ws.Subscribe(Successful(shmpubsub.NewPath("greeting")), func(c []shmpubsub.Change) {
			mu.Lock()
			changes = append(changes, c...)
			mu.Unlock()
		}))

		path := Successful(shmpubsub.NewPath("greeting"))
		Expect(ws.Put(path, shmpubsub.NewStringValue("hello"))).To(Succeed())
		Expect(ws.Put(path, shmpubsub.NewRawValue([]byte{1, 2, 3}))).To(Succeed())
		Expect(ws.Remove(path)).To(Succeed())

		Eventually(func() int {
			mu.Lock()
			defer mu.Unlock()
			return len(changes)
		}).Within(time.Second).ProbeEvery(5 * time.Millisecond).Should(Equal(3))

		mu.Lock()
		defer mu.Unlock()
		Expect(changes[0].Path().ToString()).To(Equal("/demo/greeting"))
		Expect(changes[0].Kind()).To(Equal(shmpubsub.PUT))
		Expect(changes[0].Value().ToString()).To(Equal("hello"))
		Expect(changes[1].Value().Encode()).To(Equal([]byte{1, 2, 3}))
		Expect(changes[2].Kind()).To(Equal(shmpubsub.REMOVE))
		Expect(changes[2].Value()).To(BeNil())
		Expect(changes[2].Time().IsZero()).To(BeFalse())

		Expect(ws.Unsubscribe(subid)).To(Succeed())
	})

})

var _ = Describe("admin", func() {

	It("describes the session and its topics", func() {
		node := openNode()
		pub := Successful(shmpubsub.DeclarePublisher[*message.CompressedImage](node, "/cam//front/"))
		Expect(pub.Send(message.NewCompressedImage(16, "jpg"))).To(Succeed())

		admin := node.Admin()
		Expect(admin.GetInfo()).To(HaveKeyWithValue(net.InfoPublishersKey, "1"))
		info := Successful(admin.GetTopic("/cam/front"))
		Expect(info).NotTo(BeNil())
		Expect(info.Publishers).To(Equal(1))
		Expect(info.Seq).To(Equal(uint64(1)))
		Expect(info.MemFileSize).To(BeNumerically(">", 16))
		Expect(admin.GetTopic("/unknown")).To(BeNil())

		var out bytes.Buffer
		Expect(admin.Dump(&out)).To(Succeed())
		Expect(strings.Split(out.String(), "\n")).To(ContainElement(And(
			HavePrefix("topic /cam/front: pubs=1 subs=0 seq=1"),
			HaveSuffix(fmt.Sprintf("memfile=%s (%d bytes)", info.MemFile, info.MemFileSize)))))
	})

})
